package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// popDueScript removes up to ARGV[2] entries scored at or below ARGV[1] from
// the queue and returns their payloads, all in one atomic step.
// KEYS[1] = queue sorted set, KEYS[2] = entry hash.
var popDueScript = redis.NewScript(`
local ids
if tonumber(ARGV[2]) > 0 then
    ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
else
    ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
local out = {}
for _, id in ipairs(ids) do
    local payload = redis.call("HGET", KEYS[2], id)
    redis.call("ZREM", KEYS[1], id)
    redis.call("HDEL", KEYS[2], id)
    if payload then
        table.insert(out, payload)
    end
end
return out
`)

// RetryBackend keeps retries in a sorted set scored by scheduled time in
// milliseconds, with entry bodies in a hash keyed by entry id. Entries due in
// the same millisecond pop in id order.
type RetryBackend struct {
	client redis.UniversalClient
	keys   keyspace
}

func NewRetryBackend(client redis.UniversalClient, prefix string) (*RetryBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	return &RetryBackend{client: client, keys: newKeyspace(prefix)}, nil
}

func (b *RetryBackend) Push(ctx context.Context, entry core.RetryEntry) error {
	if strings.TrimSpace(entry.Key) == "" {
		return fmt.Errorf("redisstore: retry key is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.keys.retryEntries(), entry.ID, payload)
		pipe.ZAdd(ctx, b.keys.retryQueue(), redis.Z{
			Score:  scheduleScore(entry.ScheduledAt),
			Member: entry.ID,
		})
		return nil
	})
	return err
}

func (b *RetryBackend) PopDue(ctx context.Context, now time.Time, limit int) ([]core.RetryEntry, error) {
	res, err := popDueScript.Run(ctx, b.client,
		[]string{b.keys.retryQueue(), b.keys.retryEntries()},
		strconv.FormatInt(now.UnixMilli(), 10),
		limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisstore: pop due retries: %w", err)
	}
	entries := make([]core.RetryEntry, 0, len(res))
	for _, raw := range res {
		var entry core.RetryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return entries, fmt.Errorf("redisstore: decode retry entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (b *RetryBackend) Len(ctx context.Context) (int, error) {
	count, err := b.client.ZCard(ctx, b.keys.retryQueue()).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func scheduleScore(at time.Time) float64 {
	return float64(at.UnixMilli())
}
