package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

const defaultDrainInterval = 5 * time.Second

// RetryRunner drains due retries and runs the idempotency sweep on a fixed
// interval until its context is canceled.
type RetryRunner struct {
	coordinator *Coordinator
	interval    time.Duration
	observer    core.Observer
}

func NewRetryRunner(coordinator *Coordinator, interval time.Duration, logger core.Logger) (*RetryRunner, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("webhooks: retry runner requires a coordinator")
	}
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	return &RetryRunner{
		coordinator: coordinator,
		interval:    interval,
		observer:    core.NewObserver(logger, nil),
	}, nil
}

// Run blocks until ctx is done and returns ctx.Err().
func (r *RetryRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.observer.Info(ctx, "retry runner started", map[string]any{"interval": r.interval.String()})
	for {
		select {
		case <-ctx.Done():
			r.observer.Info(context.WithoutCancel(ctx), "retry runner stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one drain and sweep pass.
func (r *RetryRunner) Tick(ctx context.Context) {
	if _, err := r.coordinator.DrainRetries(ctx); err != nil {
		r.observer.Error(ctx, "retry drain failed", map[string]any{"error": err.Error()})
	}
	if _, err := r.coordinator.Sweep(ctx); err != nil {
		r.observer.Error(ctx, "idempotency sweep failed", map[string]any{"error": err.Error()})
	}
}
