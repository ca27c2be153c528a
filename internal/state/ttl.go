// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package state holds small in-memory caches owned by long-lived components.
// Nothing here is process-global; each owner constructs its own instance.
package state

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache memoizes values for a fixed time. It is safe for concurrent use.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[K]ttlEntry[V]
}

// NewTTLCache returns an empty cache. A nil clock selects the wall clock.
func NewTTLCache[K comparable, V any](ttl time.Duration, clk clock.Clock) *TTLCache[K, V] {
	if clk == nil {
		clk = clock.WallClock
	}
	return &TTLCache[K, V]{ttl: ttl, clock: clk, entries: make(map[K]ttlEntry[V])}
}

// Get returns the cached value for key if it has not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value for key for the cache's TTL. A TTL <= 0 disables caching.
func (c *TTLCache[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, expires: c.clock.Now().Add(c.ttl)}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached. Concurrent misses for the same key may both load.
func (c *TTLCache[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Bust drops key, or every entry when no key is given.
func (c *TTLCache[K, V]) Bust(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		clear(c.entries)
		return
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Prune evicts every expired entry.
func (c *TTLCache[K, V]) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}
