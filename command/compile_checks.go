package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

var (
	_ gocmd.Commander[ProcessWebhookMessage]   = (*ProcessWebhookCommand)(nil)
	_ gocmd.Commander[DrainRetriesMessage]     = (*DrainRetriesCommand)(nil)
	_ gocmd.Commander[SweepIdempotencyMessage] = (*SweepIdempotencyCommand)(nil)

	_ WebhookProcessor   = (*webhooks.Coordinator)(nil)
	_ RetryDrainer       = (*webhooks.Coordinator)(nil)
	_ IdempotencySweeper = (*idempotency.Store)(nil)
)
