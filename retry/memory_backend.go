package retry

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

// MemoryBackend is a process-local priority queue ordered by scheduled_at.
type MemoryBackend struct {
	mu      sync.Mutex
	entries entryHeap
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Push(_ context.Context, entry core.RetryEntry) error {
	if b == nil {
		return fmt.Errorf("retry: memory backend is not configured")
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.entries, entry)
	return nil
}

func (b *MemoryBackend) PopDue(_ context.Context, now time.Time, limit int) ([]core.RetryEntry, error) {
	if b == nil {
		return nil, fmt.Errorf("retry: memory backend is not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var due []core.RetryEntry
	for b.entries.Len() > 0 && b.entries[0].Due(now) {
		if limit > 0 && len(due) >= limit {
			break
		}
		due = append(due, heap.Pop(&b.entries).(core.RetryEntry))
	}
	return due, nil
}

func (b *MemoryBackend) Len(context.Context) (int, error) {
	if b == nil {
		return 0, fmt.Errorf("retry: memory backend is not configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len(), nil
}

type entryHeap []core.RetryEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].ScheduledAt.Equal(h[j].ScheduledAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(core.RetryEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ core.RetryBackend = (*MemoryBackend)(nil)
