package redisstore

import "github.com/goliatone/go-pix-webhooks/core"

var (
	_ core.IdempotencyLedger = (*IdempotencyLedger)(nil)
	_ core.RetryBackend      = (*RetryBackend)(nil)
	_ core.KeyLocker         = (*KeyLocker)(nil)
)
