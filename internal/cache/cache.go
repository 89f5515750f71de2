// Package cache provides a generic TTL cache with an injectable clock.
package cache

import (
	"sync"
	"time"
)

// item wraps a cached value with its expiration time
type item[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a thread-safe map whose entries expire after a fixed TTL.
// Expired entries are dropped lazily on access and on Set.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]item[T]
	ttl   time.Duration
	now   func() time.Time
}

// New creates a cache with the specified TTL.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		items: make(map[string]item[T]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get retrieves a value, returning (value, true) if found and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, exists := c.items[key]
	if !exists || !c.now().Before(it.expiresAt) {
		var zero T
		return zero, false
	}
	return it.value, true
}

// Has reports whether key holds an unexpired value.
func (c *Cache[T]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores a value with the cache's TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, it := range c.items {
		if !now.Before(it.expiresAt) {
			delete(c.items, k)
		}
	}
	c.items[key] = item[T]{value: value, expiresAt: now.Add(c.ttl)}
}

// Delete removes a key from the cache.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from the cache.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]item[T])
}

// Len returns the number of stored items, including expired ones not yet dropped.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
