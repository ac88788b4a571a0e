package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

type WebhookProcessor interface {
	Handle(ctx context.Context, req core.InboundRequest) (webhooks.Outcome, error)
}

type RetryDrainer interface {
	DrainRetries(ctx context.Context) (webhooks.DrainStats, error)
}

// IdempotencySweeper removes expired records without the request-path
// throttle.
type IdempotencySweeper interface {
	SweepNow(ctx context.Context) (int, error)
}

type ProcessWebhookCommand struct {
	processor WebhookProcessor
}

func NewProcessWebhookCommand(processor WebhookProcessor) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{processor: processor}
}

// Execute stores the outcome even when processing fails, so callers can read
// the request id that went back to the gateway.
func (c *ProcessWebhookCommand) Execute(ctx context.Context, msg ProcessWebhookMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	out, err := c.processor.Handle(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type DrainRetriesCommand struct {
	drainer RetryDrainer
}

func NewDrainRetriesCommand(drainer RetryDrainer) *DrainRetriesCommand {
	return &DrainRetriesCommand{drainer: drainer}
}

func (c *DrainRetriesCommand) Execute(ctx context.Context, _ DrainRetriesMessage) error {
	if c == nil || c.drainer == nil {
		return commandDependencyError("command: retry drainer is required")
	}
	out, err := c.drainer.DrainRetries(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepIdempotencyCommand struct {
	sweeper IdempotencySweeper
}

func NewSweepIdempotencyCommand(sweeper IdempotencySweeper) *SweepIdempotencyCommand {
	return &SweepIdempotencyCommand{sweeper: sweeper}
}

func (c *SweepIdempotencyCommand) Execute(ctx context.Context, _ SweepIdempotencyMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: idempotency sweeper is required")
	}
	removed, err := c.sweeper.SweepNow(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, SweepResult{Removed: removed})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
