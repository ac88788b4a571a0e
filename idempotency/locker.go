package idempotency

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-pix-webhooks/core"
)

// KeyedLocker serializes callers per key inside one process. Slots are
// reference counted and released once no caller holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: map[string]*lockSlot{}}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil {
		return nil, fmt.Errorf("idempotency: keyed locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("idempotency: lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.unref(key, slot)
		})
	}, nil
}

// Held returns the number of keys with an active or pending holder.
func (l *KeyedLocker) Held() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *KeyedLocker) unref(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs <= 0 && l.slots[key] == slot {
		delete(l.slots, key)
	}
}

var _ core.KeyLocker = (*KeyedLocker)(nil)
