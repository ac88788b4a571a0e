package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/uptrace/bun"
)

// IdempotencyLedger keeps processed-event records in pix_idempotency_records.
type IdempotencyLedger struct {
	db *bun.DB
}

func NewIdempotencyLedger(db *bun.DB) (*IdempotencyLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IdempotencyLedger{db: db}, nil
}

func (s *IdempotencyLedger) Get(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyRecord{}, fmt.Errorf("sqlstore: idempotency ledger is not configured")
	}
	record := &idempotencyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.IdempotencyRecord{}, core.ErrRecordNotFound
		}
		return core.IdempotencyRecord{}, err
	}
	return record.toDomain(), nil
}

// Put inserts the record or overwrites the row already stored for its key.
func (s *IdempotencyLedger) Put(ctx context.Context, record core.IdempotencyRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency ledger is not configured")
	}
	row := newIdempotencyRecord(record)
	if row.Key == "" {
		return fmt.Errorf("sqlstore: idempotency key is required")
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("event = EXCLUDED.event").
		Set("processed_at = EXCLUDED.processed_at").
		Set("expires_at = EXCLUDED.expires_at").
		Set("ip = EXCLUDED.ip").
		Set("user_agent = EXCLUDED.user_agent").
		Set("request_id = EXCLUDED.request_id").
		Exec(ctx)
	return err
}

func (s *IdempotencyLedger) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency ledger is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	return err
}

func (s *IdempotencyLedger) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency ledger is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (s *IdempotencyLedger) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency ledger is not configured")
	}
	return s.db.NewSelect().Model((*idempotencyRecord)(nil)).Count(ctx)
}

func newIdempotencyRecord(record core.IdempotencyRecord) *idempotencyRecord {
	return &idempotencyRecord{
		Key:         strings.TrimSpace(record.Key),
		Event:       string(record.Event),
		ProcessedAt: record.ProcessedAt.UTC(),
		ExpiresAt:   record.ExpiresAt.UTC(),
		IP:          record.Meta.IP,
		UserAgent:   record.Meta.UserAgent,
		RequestID:   record.Meta.RequestID,
	}
}

func (r *idempotencyRecord) toDomain() core.IdempotencyRecord {
	if r == nil {
		return core.IdempotencyRecord{}
	}
	return core.IdempotencyRecord{
		Key:         r.Key,
		Event:       core.EventType(r.Event),
		ProcessedAt: r.ProcessedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		Meta: core.RequestMeta{
			IP:        r.IP,
			UserAgent: r.UserAgent,
			RequestID: r.RequestID,
		},
	}
}

func rowsAffected(res sql.Result) int {
	if res == nil {
		return 0
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(count)
}
