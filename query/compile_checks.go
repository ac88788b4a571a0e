package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

var (
	_ gocmd.Querier[GetIdempotencyRecordMessage, core.IdempotencyRecord] = (*GetIdempotencyRecordQuery)(nil)
	_ gocmd.Querier[StatsMessage, webhooks.Stats]                        = (*StatsQuery)(nil)

	_ IdempotencyReader = (*idempotency.Store)(nil)
	_ StatsReader       = (*webhooks.Coordinator)(nil)
)
