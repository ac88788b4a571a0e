package redisstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 25 * time.Millisecond
)

// releaseScript deletes the lease only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// KeyLocker is a lease lock per idempotency key shared by every instance that
// talks to the same Redis. The holder refreshes the lease every third of its
// TTL until release, so a slow flow keeps the key; the lease expires on its
// own if the holder dies.
type KeyLocker struct {
	client   redis.UniversalClient
	keys     keyspace
	lease    time.Duration
	poll     time.Duration
	observer core.Observer
}

type LockerOption func(*KeyLocker)

func WithLeaseTTL(ttl time.Duration) LockerOption {
	return func(l *KeyLocker) {
		if ttl > 0 {
			l.lease = ttl
		}
	}
}

func WithPollInterval(interval time.Duration) LockerOption {
	return func(l *KeyLocker) {
		if interval > 0 {
			l.poll = interval
		}
	}
}

func WithLockerLogger(logger core.Logger) LockerOption {
	return func(l *KeyLocker) {
		l.observer = core.NewObserver(logger, nil)
	}
}

func NewKeyLocker(client redis.UniversalClient, prefix string, opts ...LockerOption) (*KeyLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	locker := &KeyLocker{
		client:   client,
		keys:     newKeyspace(prefix),
		lease:    defaultLeaseTTL,
		poll:     defaultPollInterval,
		observer: core.NewObserver(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

// Lock polls SETNX until the lease is taken or ctx is done.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redisstore: lock key is required")
	}
	lockKey := l.keys.lock(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		acquired, err := l.client.SetNX(ctx, lockKey, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: acquire lock %q: %w", key, err)
		}
		if acquired {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(key, lockKey, token, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.release(key, lockKey, token)
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LeaseTTL reports the lease applied on acquire and on every refresh.
func (l *KeyLocker) LeaseTTL() time.Duration {
	return l.lease
}

func (l *KeyLocker) keepAlive(key string, lockKey string, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.lease / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := refreshScript.Run(ctx, l.client, []string{lockKey}, token, l.lease.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.observer.Warn(context.Background(), "redis lock lease refresh failed", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		if held == 0 {
			l.observer.Warn(context.Background(), "redis lock lease lost", map[string]any{"key": key})
			return
		}
	}
}

func (l *KeyLocker) release(key string, lockKey string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.lease)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
		l.observer.Warn(ctx, "redis lock release failed", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
}
