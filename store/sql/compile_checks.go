package sqlstore

import "github.com/goliatone/go-pix-webhooks/core"

var (
	_ core.IdempotencyLedger  = (*IdempotencyLedger)(nil)
	_ core.RetryBackend       = (*RetryBackend)(nil)
	_ core.PaymentRecorder    = (*PaymentStore)(nil)
	_ core.EntitlementStore   = (*EntitlementStore)(nil)
	_ core.OrderStatusUpdater = (*OrderStore)(nil)
	_ core.AuditWriter        = (*AuditStore)(nil)
)
