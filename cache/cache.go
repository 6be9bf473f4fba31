// Package cache holds short-lived upstream responses.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores string values with a TTL. A miss and a backend failure
// look the same to callers.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// entry holds a cached value with expiration
type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a simple in-memory cache
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
	}
}

// Get retrieves a value from cache if not expired
func (c *Memory) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// Set stores a value in cache with TTL. A non-positive ttl is ignored.
func (c *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Sweep drops expired entries and returns how many went.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len is the number of entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Memory) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}
