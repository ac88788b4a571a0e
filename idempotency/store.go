package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const recordCacheKeyPrefix = "pix-webhooks::idempotency::v1"

// Store is the idempotency store used by the coordinator. Only positive
// lookups are cached; every write invalidates the cached entry.
type Store struct {
	ledger        core.IdempotencyLedger
	locker        core.KeyLocker
	cache         repositorycache.CacheService
	ttl           time.Duration
	sweepInterval time.Duration
	observer      core.Observer

	Now func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

type Option func(*Store)

// WithCache enables the read-through record cache.
func WithCache(cache repositorycache.CacheService) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithLocker replaces the in-process keyed locker, e.g. with a distributed
// lease lock.
func WithLocker(locker core.KeyLocker) Option {
	return func(s *Store) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Store) {
		s.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(s *Store) {
		s.observer.Metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.Now = now
		}
	}
}

func NewStore(ledger core.IdempotencyLedger, cfg core.IdempotencyConfig, opts ...Option) (*Store, error) {
	if ledger == nil {
		return nil, fmt.Errorf("idempotency: ledger is required")
	}
	store := &Store{
		ledger:        ledger,
		locker:        NewKeyedLocker(),
		ttl:           cfg.TTL(),
		sweepInterval: cfg.SweepInterval(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if store.ttl <= 0 {
		store.ttl = 24 * time.Hour
	}
	if store.sweepInterval <= 0 {
		store.sweepInterval = time.Hour
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.observer = core.NewObserver(store.observer.Logger, store.observer.Metrics)
	return store, nil
}

// RecordCacheKey is the cache key for one idempotency key:
// pix-webhooks::idempotency::v1::<escaped key>.
func RecordCacheKey(key string) string {
	return recordCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(key))
}

func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	return s.locker.Lock(ctx, key)
}

// IsProcessed reports whether a live record exists for key. An expired record
// is deleted before reporting false.
func (s *Store) IsProcessed(ctx context.Context, key string) (core.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.IdempotencyRecord{}, false, fmt.Errorf("idempotency: key is required")
	}
	record, err := s.lookup(ctx, key)
	if errors.Is(err, core.ErrRecordNotFound) {
		return core.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	if record.Expired(s.now()) {
		if err := s.evict(ctx, key); err != nil {
			return core.IdempotencyRecord{}, false, err
		}
		s.observer.Debug(ctx, "idempotency record expired", map[string]any{
			"key":          key,
			"processed_at": record.ProcessedAt,
		})
		return core.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

// Get returns the stored record for key, expired or not.
func (s *Store) Get(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.IdempotencyRecord{}, fmt.Errorf("idempotency: key is required")
	}
	return s.ledger.Get(ctx, key)
}

// Commit records key as processed now, replacing any earlier record.
func (s *Store) Commit(ctx context.Context, key string, event core.EventType, meta core.RequestMeta) (core.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.IdempotencyRecord{}, fmt.Errorf("idempotency: key is required")
	}
	now := s.now()
	record := core.IdempotencyRecord{
		Key:         key,
		Event:       event,
		ProcessedAt: now,
		ExpiresAt:   now.Add(s.ttl),
		Meta:        meta,
	}
	if err := s.ledger.Put(ctx, record); err != nil {
		return core.IdempotencyRecord{}, err
	}
	if err := s.invalidate(ctx, key); err != nil {
		return core.IdempotencyRecord{}, err
	}
	s.observer.Count(ctx, core.MetricIdempotencyCommit, 1, map[string]string{"event": string(event)})
	return record, nil
}

// Sweep removes expired records at most once per sweep interval. Calls inside
// the interval return zero without touching the ledger.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.sweepInterval {
		s.mu.Unlock()
		return 0, nil
	}
	s.lastSweep = now
	s.mu.Unlock()
	return s.sweep(ctx, now)
}

// SweepNow removes expired records regardless of the throttle.
func (s *Store) SweepNow(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	s.lastSweep = now
	s.mu.Unlock()
	return s.sweep(ctx, now)
}

// LastSweep returns the time of the last sweep, zero if none ran.
func (s *Store) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.ledger.Count(ctx)
}

func (s *Store) sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := s.ledger.DeleteExpired(ctx, now)
	if err != nil {
		s.observer.Error(ctx, "idempotency sweep failed", map[string]any{"error": err.Error()})
		return 0, err
	}
	if removed > 0 {
		s.observer.Info(ctx, "idempotency sweep removed expired records", map[string]any{"removed": removed})
		s.observer.Count(ctx, core.MetricIdempotencySwept, int64(removed), nil)
	}
	return removed, nil
}

func (s *Store) lookup(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	if s.cache == nil {
		return s.ledger.Get(ctx, key)
	}
	return repositorycache.GetOrFetch(ctx, s.cache, RecordCacheKey(key), func(ctx context.Context) (core.IdempotencyRecord, error) {
		return s.ledger.Get(ctx, key)
	})
}

func (s *Store) evict(ctx context.Context, key string) error {
	if err := s.ledger.Delete(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *Store) invalidate(ctx context.Context, key string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, RecordCacheKey(key))
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.IdempotencyStore = (*Store)(nil)
