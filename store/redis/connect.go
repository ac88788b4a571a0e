// Package redisstore backs the idempotency ledger, retry queue and key locks
// with Redis so several webhook instances can share them.
package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "pix-webhooks"

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key written by this package.
	Prefix string
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redisstore: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) idempotencyRecord(key string) string {
	return k.prefix + ":idempotency:" + key
}

func (k keyspace) idempotencyIndex() string {
	return k.prefix + ":idempotency:index"
}

func (k keyspace) retryQueue() string {
	return k.prefix + ":retry:queue"
}

func (k keyspace) retryEntries() string {
	return k.prefix + ":retry:entries"
}

func (k keyspace) lock(key string) string {
	return k.prefix + ":lock:" + key
}
