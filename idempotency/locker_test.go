package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "TRANSACTION_PAID:tx_1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer release()
			current := atomic.AddInt32(&active, 1)
			for {
				seen := atomic.LoadInt32(&maxActive)
				if current <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxActive)
	}
	if held := locker.Held(); held != 0 {
		t.Fatalf("expected slots released, got %d", held)
	}
}

func TestKeyedLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewKeyedLocker()
	releaseA, err := locker.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	releaseB()
}

func TestKeyedLocker_HonorsContextCancellation(t *testing.T) {
	locker := NewKeyedLocker()
	release, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "k"); err == nil {
		t.Fatalf("expected lock wait to fail on context deadline")
	}

	release()
	release()
	if held := locker.Held(); held != 0 {
		t.Fatalf("expected no held slots after release, got %d", held)
	}
}
