package pixwebhooks

import (
	"fmt"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/retry"
	redisstore "github.com/goliatone/go-pix-webhooks/store/redis"
	sqlstore "github.com/goliatone/go-pix-webhooks/store/sql"
	"github.com/redis/go-redis/v9"
)

// Backends are the storage pieces a runtime is built from. Locker is optional;
// the idempotency store falls back to an in-process keyed lock.
type Backends struct {
	Ledger       core.IdempotencyLedger
	Retry        core.RetryBackend
	Locker       core.KeyLocker
	Capabilities effects.Capabilities
}

// MemoryBackends keeps everything in process memory. The returned store backs
// the effect capabilities and can be inspected in tests.
func MemoryBackends(cfg Config) (Backends, *effects.MemoryStore) {
	memory := effects.NewMemoryStore()
	return Backends{
		Ledger:       idempotency.NewMemoryLedger(cfg.Idempotency.MaxCacheEntries),
		Retry:        retry.NewMemoryBackend(),
		Capabilities: memory.Capabilities(),
	}, memory
}

// SQLBackends uses the bun repositories for every durable concern.
func SQLBackends(factory *sqlstore.RepositoryFactory) (Backends, error) {
	if factory == nil || factory.IdempotencyLedger() == nil {
		return Backends{}, fmt.Errorf("pixwebhooks: sql repository factory is not built")
	}
	return Backends{
		Ledger:       factory.IdempotencyLedger(),
		Retry:        factory.RetryBackend(),
		Capabilities: factory.Capabilities(),
	}, nil
}

// WithRedis moves the idempotency ledger, retry queue and key locks onto
// Redis, keeping the effect capabilities of base.
func WithRedis(base Backends, client redis.UniversalClient, prefix string, lockerOpts ...redisstore.LockerOption) (Backends, error) {
	if client == nil {
		return Backends{}, fmt.Errorf("pixwebhooks: redis client is required")
	}
	ledger, err := redisstore.NewIdempotencyLedger(client, prefix)
	if err != nil {
		return Backends{}, err
	}
	backend, err := redisstore.NewRetryBackend(client, prefix)
	if err != nil {
		return Backends{}, err
	}
	locker, err := redisstore.NewKeyLocker(client, prefix, lockerOpts...)
	if err != nil {
		return Backends{}, err
	}
	base.Ledger = ledger
	base.Retry = backend
	base.Locker = locker
	return base, nil
}
