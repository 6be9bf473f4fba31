package api

import (
	"context"
	"sync"
	"time"
)

// limiter spaces calls to each API at least minInterval apart. Callers
// reserve their slot under the lock and sleep outside it.
type limiter struct {
	mu          sync.Mutex
	next        map[string]time.Time
	minInterval time.Duration
}

func newLimiter(d time.Duration) *limiter {
	return &limiter{
		next:        make(map[string]time.Time),
		minInterval: d,
	}
}

func (l *limiter) wait(ctx context.Context, api string) error {
	if l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot, ok := l.next[api]
	if !ok || slot.Before(now) {
		slot = now
	}
	l.next[api] = slot.Add(l.minInterval)
	l.mu.Unlock()

	if d := time.Until(slot); d > 0 {
		return sleep(ctx, d)
	}
	return nil
}
