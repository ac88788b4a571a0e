package webhooks

import (
	"context"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

// DrainStats summarizes one DrainRetries pass.
type DrainStats struct {
	Drained     int `json:"drained"`
	Applied     int `json:"applied"`
	Skipped     int `json:"skipped"`
	Rescheduled int `json:"rescheduled"`
	Dropped     int `json:"dropped"`
}

// DrainRetries replays every due retry entry. Each entry runs under its key
// lock; keys that were processed in the meantime are skipped.
func (c *Coordinator) DrainRetries(ctx context.Context) (DrainStats, error) {
	stats := DrainStats{}
	entries, err := c.queue.DrainDue(ctx, c.now())
	if err != nil {
		return stats, err
	}
	stats.Drained = len(entries)
	work := context.WithoutCancel(ctx)
	for _, entry := range entries {
		c.replay(work, entry, &stats)
	}
	if stats.Drained > 0 {
		c.observer.Info(ctx, "retry drain finished", map[string]any{
			"drained":     stats.Drained,
			"applied":     stats.Applied,
			"skipped":     stats.Skipped,
			"rescheduled": stats.Rescheduled,
			"dropped":     stats.Dropped,
		})
	}
	return stats, nil
}

func (c *Coordinator) replay(ctx context.Context, entry core.RetryEntry, stats *DrainStats) {
	fields := map[string]any{
		"key":      entry.Key,
		"attempt":  entry.Attempt,
		"retry_id": entry.ID,
	}
	release, err := c.store.Lock(ctx, entry.Key)
	if err != nil {
		c.observer.Error(ctx, "retry lock failed", withError(fields, err))
		c.reschedule(ctx, entry, entry.Attempt, stats)
		return
	}
	defer release()

	_, processed, err := c.store.IsProcessed(ctx, entry.Key)
	if err != nil {
		c.observer.Error(ctx, "retry idempotency lookup failed", withError(fields, err))
		c.reschedule(ctx, entry, entry.Attempt+1, stats)
		return
	}
	if processed {
		stats.Skipped++
		c.observer.Info(ctx, "retry skipped, key already processed", fields)
		return
	}

	envelope, err := c.validator.Parse(entry.Payload)
	if err != nil {
		stats.Dropped++
		c.stats.retriesDropped.Add(1)
		c.observer.Critical(ctx, "retry payload is unreadable, dropping event", withError(fields, err))
		return
	}

	result, err := c.effects.Apply(ctx, envelope, core.EffectRun{
		RequestID: entry.ID,
		Attempt:   entry.Attempt,
		Payload:   entry.Payload,
	})
	if err != nil {
		mapped := core.MapError(err)
		if mapped.TextCode != core.ErrorProcessing {
			stats.Dropped++
			c.stats.retriesDropped.Add(1)
			c.stats.failed.Add(1)
			c.observer.Critical(ctx, "retry failed with internal error, dropping event", withError(fields, mapped))
			return
		}
		c.observer.Warn(ctx, "retry attempt failed", withError(fields, mapped))
		c.reschedule(ctx, entry, entry.Attempt+1, stats)
		return
	}

	if result.Committable() {
		meta := core.RequestMeta{UserAgent: drainUserAgent, RequestID: entry.ID}
		if _, err := c.store.Commit(ctx, entry.Key, envelope.Event, meta); err != nil {
			c.observer.Error(ctx, "retry commit failed", withError(fields, err))
			c.reschedule(ctx, entry, entry.Attempt+1, stats)
			return
		}
		c.stats.committed.Add(1)
	}
	stats.Applied++
	c.stats.retriesApplied.Add(1)
	c.observer.Info(ctx, "retry applied", withField(fields, "status", result.Status))
}

func (c *Coordinator) reschedule(ctx context.Context, entry core.RetryEntry, attempt int, stats *DrainStats) {
	scheduled, err := c.queue.Schedule(ctx, entry.Key, entry.Payload, attempt)
	switch {
	case err != nil:
		stats.Dropped++
		c.stats.retriesDropped.Add(1)
		c.observer.Critical(ctx, "retry could not be rescheduled, dropping event", map[string]any{
			"key":     entry.Key,
			"attempt": attempt,
			"error":   err.Error(),
		})
	case scheduled:
		stats.Rescheduled++
		c.stats.retriesScheduled.Add(1)
	default:
		stats.Dropped++
		c.stats.retriesDropped.Add(1)
		c.stats.failed.Add(1)
	}
}

// Sweep runs the throttled idempotency sweep.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx)
}

// Stats is a point-in-time view of coordinator activity since start.
type Stats struct {
	Processed          int64      `json:"processed"`
	Duplicates         int64      `json:"duplicates"`
	Ignored            int64      `json:"ignored"`
	Failed             int64      `json:"failed"`
	Rejected           int64      `json:"rejected"`
	Committed          int64      `json:"committed"`
	RetriesScheduled   int64      `json:"retries_scheduled"`
	RetriesApplied     int64      `json:"retries_applied"`
	RetriesDropped     int64      `json:"retries_dropped"`
	RetryQueueSize     int        `json:"retry_queue_size"`
	IdempotencyRecords int        `json:"idempotency_records"`
	LastSweep          *time.Time `json:"last_sweep,omitempty"`
}

type sweepReporter interface {
	LastSweep() time.Time
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Processed:        c.stats.processed.Load(),
		Duplicates:       c.stats.duplicates.Load(),
		Ignored:          c.stats.ignored.Load(),
		Failed:           c.stats.failed.Load(),
		Rejected:         c.stats.rejected.Load(),
		Committed:        c.stats.committed.Load(),
		RetriesScheduled: c.stats.retriesScheduled.Load(),
		RetriesApplied:   c.stats.retriesApplied.Load(),
		RetriesDropped:   c.stats.retriesDropped.Load(),
	}
	size, err := c.queue.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.RetryQueueSize = size
	count, err := c.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats.IdempotencyRecords = count
	if reporter, ok := c.store.(sweepReporter); ok {
		if last := reporter.LastSweep(); !last.IsZero() {
			stats.LastSweep = &last
		}
	}
	return stats, nil
}

func withError(fields map[string]any, err error) map[string]any {
	return withField(fields, "error", err.Error())
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
