// Package mongostore keeps a backup copy of webhook audit entries in MongoDB.
package mongostore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabase   = "pix_webhooks"
	DefaultCollection = "audit_entries"

	defaultServerSelectionTimeout = 5 * time.Second
)

// Connect connects to the server and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongostore: uri is required")
	}
	timeout := defaultServerSelectionTimeout
	opts := &options.ClientOptions{ServerSelectionTimeout: &timeout}

	client, err := mongo.Connect(ctx, opts.ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

type auditDocument struct {
	ID            string    `bson:"_id"`
	TransactionID string    `bson:"transaction_id"`
	Event         string    `bson:"event"`
	RequestID     string    `bson:"request_id"`
	Attempt       int       `bson:"attempt"`
	Payload       string    `bson:"payload"`
	RecordedAt    time.Time `bson:"recorded_at"`
}

// AuditWriter upserts one document per effect run. The document id is derived
// from the run so a repeated write of the same run replaces it.
type AuditWriter struct {
	collection *mongo.Collection
}

func NewAuditWriter(client *mongo.Client, database, collection string) (*AuditWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("mongostore: client is required")
	}
	if strings.TrimSpace(database) == "" {
		database = DefaultDatabase
	}
	if strings.TrimSpace(collection) == "" {
		collection = DefaultCollection
	}
	return &AuditWriter{collection: client.Database(database).Collection(collection)}, nil
}

func (w *AuditWriter) WriteAudit(ctx context.Context, entry core.AuditEntry) error {
	if w == nil || w.collection == nil {
		return fmt.Errorf("mongostore: audit writer is not configured")
	}
	doc := newAuditDocument(entry)
	_, err := w.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

// ListByTransaction returns the audit documents for a transaction, oldest
// first.
func (w *AuditWriter) ListByTransaction(ctx context.Context, transactionID string) ([]core.AuditEntry, error) {
	if w == nil || w.collection == nil {
		return nil, fmt.Errorf("mongostore: audit writer is not configured")
	}
	cursor, err := w.collection.Find(ctx,
		bson.M{"transaction_id": strings.TrimSpace(transactionID)},
		options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []auditDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func newAuditDocument(entry core.AuditEntry) auditDocument {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	transactionID := strings.TrimSpace(entry.TransactionID)
	return auditDocument{
		ID:            auditDocumentID(transactionID, entry.Event, entry.RequestID, entry.Attempt),
		TransactionID: transactionID,
		Event:         string(entry.Event),
		RequestID:     entry.RequestID,
		Attempt:       entry.Attempt,
		Payload:       string(entry.Payload),
		RecordedAt:    recordedAt.UTC(),
	}
}

func auditDocumentID(transactionID string, event core.EventType, requestID string, attempt int) string {
	return strings.Join([]string{
		transactionID,
		string(event),
		strings.TrimSpace(requestID),
		strconv.Itoa(attempt),
	}, ":")
}

func (d auditDocument) toDomain() core.AuditEntry {
	return core.AuditEntry{
		TransactionID: d.TransactionID,
		Event:         core.EventType(d.Event),
		RequestID:     d.RequestID,
		Attempt:       d.Attempt,
		Payload:       []byte(d.Payload),
		RecordedAt:    d.RecordedAt.UTC(),
	}
}

var _ core.AuditWriter = (*AuditWriter)(nil)
