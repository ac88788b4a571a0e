package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/redis/go-redis/v9"
)

// IdempotencyLedger stores each record as a JSON string with a Redis TTL and
// indexes it in a sorted set scored by expiry so sweeps can find it.
type IdempotencyLedger struct {
	client redis.UniversalClient
	keys   keyspace
	now    func() time.Time
}

func NewIdempotencyLedger(client redis.UniversalClient, prefix string) (*IdempotencyLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	return &IdempotencyLedger{client: client, keys: newKeyspace(prefix), now: time.Now}, nil
}

func (l *IdempotencyLedger) Get(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	raw, err := l.client.Get(ctx, l.keys.idempotencyRecord(strings.TrimSpace(key))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.IdempotencyRecord{}, core.ErrRecordNotFound
		}
		return core.IdempotencyRecord{}, err
	}
	var record core.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return core.IdempotencyRecord{}, fmt.Errorf("redisstore: decode idempotency record %q: %w", key, err)
	}
	return record, nil
}

func (l *IdempotencyLedger) Put(ctx context.Context, record core.IdempotencyRecord) error {
	key := strings.TrimSpace(record.Key)
	if key == "" {
		return fmt.Errorf("redisstore: idempotency key is required")
	}
	ttl := recordTTL(record, l.now())
	if ttl <= 0 {
		return l.Delete(ctx, key)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.keys.idempotencyRecord(key), payload, ttl)
		pipe.ZAdd(ctx, l.keys.idempotencyIndex(), redis.Z{
			Score:  float64(record.ExpiresAt.Unix()),
			Member: key,
		})
		return nil
	})
	return err
}

func (l *IdempotencyLedger) Delete(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.keys.idempotencyRecord(key))
		pipe.ZRem(ctx, l.keys.idempotencyIndex(), key)
		return nil
	})
	return err
}

// DeleteExpired removes index members whose expiry has passed. Redis has
// usually dropped the record itself already through its TTL.
func (l *IdempotencyLedger) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := l.client.ZRangeByScore(ctx, l.keys.idempotencyIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	recordKeys := make([]string, 0, len(members))
	indexMembers := make([]any, 0, len(members))
	for _, member := range members {
		recordKeys = append(recordKeys, l.keys.idempotencyRecord(member))
		indexMembers = append(indexMembers, member)
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKeys...)
		pipe.ZRem(ctx, l.keys.idempotencyIndex(), indexMembers...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (l *IdempotencyLedger) Count(ctx context.Context) (int, error) {
	count, err := l.client.ZCard(ctx, l.keys.idempotencyIndex()).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func recordTTL(record core.IdempotencyRecord, now time.Time) time.Duration {
	if record.ExpiresAt.IsZero() {
		return 0
	}
	return record.ExpiresAt.Sub(now)
}
