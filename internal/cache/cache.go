package cache

import (
	"sync"
	"time"
)

// TTL is a tiny in-memory cache whose entries expire after a fixed age.
// Concurrent writers to the same key are last-writer-wins.
type TTL[V any] struct {
	mu    sync.RWMutex
	store map[string]cacheEntry[V]
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry[V any] struct {
	v  V
	ts time.Time
}

// New creates a cache with the provided TTL.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{store: make(map[string]cacheEntry[V]), ttl: ttl, now: time.Now}
}

// WithClock swaps the time source; used by tests.
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.now = now
	return c
}

// Get returns cached value and true if present and not expired.
func (c *TTL[V]) Get(k string) (V, bool) {
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.store[k]; ok && cur.ts.Equal(e.ts) {
			delete(c.store, k)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *TTL[V]) Set(k string, v V) {
	c.mu.Lock()
	c.store[k] = cacheEntry[V]{v: v, ts: c.now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.store = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}

// Purge drops expired entries and reports how many were removed.
func (c *TTL[V]) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
			n++
		}
	}
	return n
}

func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
