package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RetryBackend stores scheduled retries in pix_retry_entries. PopDue selects
// and deletes due rows in one transaction so concurrent drains never replay
// the same entry twice.
type RetryBackend struct {
	db   *bun.DB
	repo repository.Repository[*retryEntryRecord]
}

func NewRetryBackend(db *bun.DB) (*RetryBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*retryEntryRecord](db, retryEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid retry entry repository wiring: %w", err)
		}
	}
	return &RetryBackend{db: db, repo: repo}, nil
}

func (s *RetryBackend) Push(ctx context.Context, entry core.RetryEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: retry backend is not configured")
	}
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("sqlstore: retry key is required")
	}
	record := newRetryEntryRecord(entry)
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *RetryBackend) PopDue(ctx context.Context, now time.Time, limit int) ([]core.RetryEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: retry backend is not configured")
	}
	var due []core.RetryEntry
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		records := make([]retryEntryRecord, 0)
		query := tx.NewSelect().
			Model(&records).
			Where("?TableAlias.scheduled_at <= ?", now.UTC()).
			OrderExpr("?TableAlias.scheduled_at ASC, ?TableAlias.created_at ASC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		if err := query.Scan(ctx); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		ids := make([]string, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID)
		}
		if _, err := tx.NewDelete().
			Model((*retryEntryRecord)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return err
		}
		due = make([]core.RetryEntry, 0, len(records))
		for i := range records {
			due = append(due, records[i].toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (s *RetryBackend) Len(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: retry backend is not configured")
	}
	return s.db.NewSelect().Model((*retryEntryRecord)(nil)).Count(ctx)
}

func newRetryEntryRecord(entry core.RetryEntry) *retryEntryRecord {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &retryEntryRecord{
		ID:          id,
		Key:         strings.TrimSpace(entry.Key),
		Payload:     append([]byte(nil), entry.Payload...),
		Attempt:     entry.Attempt,
		ScheduledAt: entry.ScheduledAt.UTC(),
		CreatedAt:   createdAt.UTC(),
	}
}

func (r *retryEntryRecord) toDomain() core.RetryEntry {
	if r == nil {
		return core.RetryEntry{}
	}
	return core.RetryEntry{
		ID:          r.ID,
		Key:         r.Key,
		Payload:     append([]byte(nil), r.Payload...),
		Attempt:     r.Attempt,
		ScheduledAt: r.ScheduledAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}
