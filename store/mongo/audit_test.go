package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/google/uuid"
)

func TestNewAuditDocument_DerivesRunID(t *testing.T) {
	recordedAt := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	doc := newAuditDocument(core.AuditEntry{
		TransactionID: " tx_1 ",
		Event:         core.EventTransactionPaid,
		RequestID:     "req_1",
		Attempt:       2,
		Payload:       []byte(`{"event":"TRANSACTION_PAID"}`),
		RecordedAt:    recordedAt,
	})
	if doc.ID != "tx_1:TRANSACTION_PAID:req_1:2" {
		t.Fatalf("unexpected document id %q", doc.ID)
	}
	if doc.TransactionID != "tx_1" || doc.Payload != `{"event":"TRANSACTION_PAID"}` {
		t.Fatalf("unexpected document: %+v", doc)
	}

	entry := doc.toDomain()
	if entry.Attempt != 2 || !entry.RecordedAt.Equal(recordedAt) || string(entry.Payload) != doc.Payload {
		t.Fatalf("unexpected round trip entry: %+v", entry)
	}
}

func TestNewAuditWriter_RequiresClient(t *testing.T) {
	if _, err := NewAuditWriter(nil, "", ""); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := Connect(context.Background(), " "); err == nil {
		t.Fatalf("expected error without uri")
	}
}

func TestAuditWriter_Mongo(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	database := "pix_webhooks_test_" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_ = client.Database(database).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	writer, err := NewAuditWriter(client, database, "")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	entry := core.AuditEntry{
		TransactionID: "tx_1",
		Event:         core.EventTransactionPaid,
		RequestID:     "req_1",
		Attempt:       0,
		Payload:       []byte(`{}`),
		RecordedAt:    time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 2; i++ {
		if err := writer.WriteAudit(ctx, entry); err != nil {
			t.Fatalf("write audit: %v", err)
		}
	}
	entry.RequestID = "req_2"
	if err := writer.WriteAudit(ctx, entry); err != nil {
		t.Fatalf("write second run: %v", err)
	}

	entries, err := writer.ListByTransaction(ctx, "tx_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected replays of one run to collapse into 2 documents, got %d", len(entries))
	}
}
