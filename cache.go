package pbwire

import (
	"errors"
	"sync"
)

var errNotFound = errors.New("cache entry not found")

// cache is a map of K to V, or to the error that prevented computing
// V. Lookups take a read lock, so concurrent readers don't contend.
type cache[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]cacheEntry[V]
}

type cacheEntry[V any] struct {
	v   V
	err error
}

// Get returns the cached value for k. If no value is cached, Get
// returns errNotFound.
func (c *cache[K, V]) Get(k K) (V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.m[k]
	if !ok {
		var zero V
		return zero, errNotFound
	}
	return ent.v, ent.err
}

// GetOrSet returns the cached value for k, computing it with mk if
// needed. mk runs at most once per key, unless the cache is cleared.
func (c *cache[K, V]) GetOrSet(k K, mk func() (V, error)) (V, error) {
	if v, err := c.Get(k); !errors.Is(err, errNotFound) {
		return v, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.m[k]; ok {
		return ent.v, ent.err
	}
	v, err := mk()
	c.set(k, cacheEntry[V]{v, err})
	return v, err
}

// Set caches v for k.
func (c *cache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(k, cacheEntry[V]{v: v})
}

func (c *cache[K, V]) set(k K, ent cacheEntry[V]) {
	if c.m == nil {
		c.m = map[K]cacheEntry[V]{}
	}
	c.m[k] = ent
}

// Clear drops all cached values.
func (c *cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.m)
}

// Len returns the number of cached entries.
func (c *cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
