package device

import "sync"

// ValueCache is a concurrency-safe capability value cache.
type ValueCache struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewValueCache creates a cache seeded with initial (which is copied).
func NewValueCache(initial map[string]any) *ValueCache {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &ValueCache{values: values}
}

// Get returns the cached value.
func (c *ValueCache) Get(capability string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[capability]
	return v, ok
}

// Set records a value.
func (c *ValueCache) Set(capability string, value any) {
	c.mu.Lock()
	c.values[capability] = value
	c.mu.Unlock()
}

// Snapshot returns a copy of all cached values.
func (c *ValueCache) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
