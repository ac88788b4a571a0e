package idempotency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

const defaultMaxEntries = 10000

// MemoryLedger keeps records in process memory. When full, the record with
// the oldest processed_at is evicted to make room.
type MemoryLedger struct {
	mu         sync.Mutex
	maxEntries int
	records    map[string]core.IdempotencyRecord
}

func NewMemoryLedger(maxEntries int) *MemoryLedger {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryLedger{
		maxEntries: maxEntries,
		records:    map[string]core.IdempotencyRecord{},
	}
}

func (l *MemoryLedger) Get(_ context.Context, key string) (core.IdempotencyRecord, error) {
	if l == nil {
		return core.IdempotencyRecord{}, fmt.Errorf("idempotency: memory ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[strings.TrimSpace(key)]
	if !ok {
		return core.IdempotencyRecord{}, core.ErrRecordNotFound
	}
	return record, nil
}

func (l *MemoryLedger) Put(_ context.Context, record core.IdempotencyRecord) error {
	if l == nil {
		return fmt.Errorf("idempotency: memory ledger is not configured")
	}
	record.Key = strings.TrimSpace(record.Key)
	if record.Key == "" {
		return fmt.Errorf("idempotency: record key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[record.Key]; !exists {
		for len(l.records) >= l.maxEntries {
			l.evictOldestLocked()
		}
	}
	l.records[record.Key] = record
	return nil
}

func (l *MemoryLedger) Delete(_ context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("idempotency: memory ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, strings.TrimSpace(key))
	return nil
}

func (l *MemoryLedger) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("idempotency: memory ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, record := range l.records {
		if record.Expired(now) {
			delete(l.records, key)
			removed++
		}
	}
	return removed, nil
}

func (l *MemoryLedger) Count(context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("idempotency: memory ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records), nil
}

func (l *MemoryLedger) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, record := range l.records {
		if oldestKey == "" || record.ProcessedAt.Before(oldest) {
			oldestKey = key
			oldest = record.ProcessedAt
		}
	}
	if oldestKey == "" {
		return
	}
	delete(l.records, oldestKey)
}

var _ core.IdempotencyLedger = (*MemoryLedger)(nil)
