package command

import (
	"strings"

	"github.com/goliatone/go-pix-webhooks/core"
)

const (
	TypeProcessWebhook   = "pix_webhooks.command.webhook.process"
	TypeDrainRetries     = "pix_webhooks.command.retry.drain"
	TypeSweepIdempotency = "pix_webhooks.command.idempotency.sweep"
)

// ProcessWebhookMessage carries one delivery as received by a transport.
type ProcessWebhookMessage struct {
	Request core.InboundRequest
}

func (ProcessWebhookMessage) Type() string { return TypeProcessWebhook }

func (m ProcessWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.Method) == "" {
		return commandValidationError("method", "is required")
	}
	return nil
}

type DrainRetriesMessage struct{}

func (DrainRetriesMessage) Type() string { return TypeDrainRetries }

type SweepIdempotencyMessage struct{}

func (SweepIdempotencyMessage) Type() string { return TypeSweepIdempotency }

// SweepResult is stored in the result collector by SweepIdempotencyCommand.
type SweepResult struct {
	Removed int `json:"removed"`
}
