package store

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EvictFunc is called when an entry leaves the cache because of capacity
// or TTL. It is not called for explicit Remove.
//
// It runs after the cache's internal lock is released, so it may do slow
// work and read the cache, but it must not add entries. Capacity evictions are
// delivered before the Add that caused them returns; TTL evictions are
// delivered from a separate goroutine.
type EvictFunc[V any] func(key string, value V)

type eviction[V any] struct {
	key   string
	value V
}

// Cache is a bounded, TTL-expiring map of live entries keyed by id.
// It is safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]

	mu       sync.Mutex
	removing map[string]struct{}
	pending  []eviction[V]

	// deliverMu serializes callbacks so a drain waits for one in progress.
	deliverMu sync.Mutex
	onEvict   EvictFunc[V]
}

// NewCache creates a cache holding at most capacity entries, each expiring
// ttl after it was last added or touched. capacity <= 0 means unbounded;
// ttl <= 0 disables expiry.
func NewCache[V any](capacity int, ttl time.Duration, onEvict EvictFunc[V]) *Cache[V] {
	c := &Cache[V]{
		removing: make(map[string]struct{}),
		onEvict:  onEvict,
	}
	c.lru = expirable.NewLRU[string, V](capacity, c.evicted, ttl)
	return c
}

// evicted runs under the LRU lock. It only queues the entry.
func (c *Cache[V]) evicted(key string, value V) {
	if c.onEvict == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, explicit := c.removing[key]; explicit {
		return
	}
	c.pending = append(c.pending, eviction[V]{key: key, value: value})
	// The TTL reaper has no caller to drain after it.
	go c.deliver()
}

// deliver hands queued evictions to the callback.
func (c *Cache[V]) deliver() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			c.onEvict(ev.key, ev.value)
		}
	}
}

// Add inserts or replaces an entry and resets its TTL.
// Returns true if an older entry was evicted to make room.
func (c *Cache[V]) Add(key string, value V) bool {
	evicted := c.lru.Add(key, value)
	if evicted && c.onEvict != nil {
		c.deliver()
	}
	return evicted
}

// Get returns a live entry, marks it most recently used and resets its TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.Add(key, v)
	}
	return v, ok
}

// Peek returns a live entry without touching recency or TTL.
func (c *Cache[V]) Peek(key string) (V, bool) {
	return c.lru.Peek(key)
}

// Remove deletes an entry without invoking the eviction callback.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	c.removing[key] = struct{}{}
	c.mu.Unlock()

	ok := c.lru.Remove(key)

	c.mu.Lock()
	delete(c.removing, key)
	c.mu.Unlock()
	return ok
}

// Values returns live entries from oldest to newest use.
func (c *Cache[V]) Values() []V {
	keys := c.lru.Keys()
	values := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.lru.Peek(k); ok {
			values = append(values, v)
		}
	}
	return values
}

// Keys returns live keys from oldest to newest use.
func (c *Cache[V]) Keys() []string {
	keys := c.lru.Keys()
	live := keys[:0]
	for _, k := range keys {
		if _, ok := c.lru.Peek(k); ok {
			live = append(live, k)
		}
	}
	return live
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
