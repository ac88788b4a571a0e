package query

import (
	"context"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

type IdempotencyReader interface {
	IsProcessed(ctx context.Context, key string) (core.IdempotencyRecord, bool, error)
}

type StatsReader interface {
	Stats(ctx context.Context) (webhooks.Stats, error)
}

type GetIdempotencyRecordQuery struct {
	reader IdempotencyReader
}

func NewGetIdempotencyRecordQuery(reader IdempotencyReader) *GetIdempotencyRecordQuery {
	return &GetIdempotencyRecordQuery{reader: reader}
}

// Query returns the live record for the key. Expired records are reported as
// not found.
func (q *GetIdempotencyRecordQuery) Query(ctx context.Context, msg GetIdempotencyRecordMessage) (core.IdempotencyRecord, error) {
	if q == nil || q.reader == nil {
		return core.IdempotencyRecord{}, queryDependencyError("query: idempotency reader is required")
	}
	key := msg.ResolvedKey()
	record, ok, err := q.reader.IsProcessed(ctx, key)
	if err != nil {
		return core.IdempotencyRecord{}, err
	}
	if !ok {
		return core.IdempotencyRecord{}, queryNotFoundError("query: idempotency record not found", map[string]any{"key": key})
	}
	return record, nil
}

type StatsQuery struct {
	reader StatsReader
}

func NewStatsQuery(reader StatsReader) *StatsQuery {
	return &StatsQuery{reader: reader}
}

func (q *StatsQuery) Query(ctx context.Context, _ StatsMessage) (webhooks.Stats, error) {
	if q == nil || q.reader == nil {
		return webhooks.Stats{}, queryDependencyError("query: stats reader is required")
	}
	return q.reader.Stats(ctx)
}
