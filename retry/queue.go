package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/google/uuid"
)

// Queue schedules effect retries with linear backoff:
// scheduled_at = now + delay*attempt. Attempts beyond MaxAttempts are
// dropped and logged at critical severity.
type Queue struct {
	backend     core.RetryBackend
	maxAttempts int
	delay       time.Duration
	batchSize   int
	observer    core.Observer

	Now   func() time.Time
	NewID func() string
}

type Option func(*Queue)

func WithLogger(logger core.Logger) Option {
	return func(q *Queue) {
		q.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(q *Queue) {
		q.observer.Metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.Now = now
		}
	}
}

func NewQueue(backend core.RetryBackend, cfg core.RetryConfig, opts ...Option) (*Queue, error) {
	if backend == nil {
		return nil, fmt.Errorf("retry: backend is required")
	}
	queue := &Queue{
		backend:     backend,
		maxAttempts: cfg.MaxAttempts,
		delay:       cfg.Delay(),
		batchSize:   cfg.DrainBatchSize,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
	}
	if queue.maxAttempts <= 0 {
		queue.maxAttempts = 3
	}
	for _, opt := range opts {
		if opt != nil {
			opt(queue)
		}
	}
	queue.observer = core.NewObserver(queue.observer.Logger, queue.observer.Metrics)
	return queue, nil
}

func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Schedule enqueues payload for another attempt. It returns false without
// enqueueing when attempt exceeds the retry limit.
func (q *Queue) Schedule(ctx context.Context, key string, payload []byte, attempt int) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("retry: key is required")
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > q.maxAttempts {
		q.observer.Critical(ctx, "webhook retry limit exceeded, dropping event", map[string]any{
			"key":          key,
			"attempt":      attempt,
			"max_attempts": q.maxAttempts,
		})
		q.observer.Count(ctx, core.MetricRetriesDropped, 1, nil)
		return false, nil
	}
	now := q.now()
	entry := core.RetryEntry{
		ID:          q.NewID(),
		Key:         key,
		Payload:     append([]byte(nil), payload...),
		Attempt:     attempt,
		ScheduledAt: now.Add(q.delay * time.Duration(attempt)),
		CreatedAt:   now,
	}
	if err := q.backend.Push(ctx, entry); err != nil {
		return false, err
	}
	q.observer.Info(ctx, "webhook retry scheduled", map[string]any{
		"key":          key,
		"attempt":      attempt,
		"scheduled_at": entry.ScheduledAt,
	})
	q.observer.Count(ctx, core.MetricRetriesScheduled, 1, map[string]string{"attempt": fmt.Sprint(attempt)})
	return true, nil
}

// DrainDue removes and returns the entries due at now, oldest first.
func (q *Queue) DrainDue(ctx context.Context, now time.Time) ([]core.RetryEntry, error) {
	if now.IsZero() {
		now = q.now()
	}
	entries, err := q.backend.PopDue(ctx, now.UTC(), q.batchSize)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		q.observer.Count(ctx, core.MetricRetriesDrained, int64(len(entries)), nil)
	}
	return entries, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.backend.Len(ctx)
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.RetryQueue = (*Queue)(nil)
