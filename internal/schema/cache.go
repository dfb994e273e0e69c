package schema

import (
	"context"
	"sync"
)

// Loader introspects the live schema of a scenario store.
type Loader interface {
	IntrospectSchema(ctx context.Context, scenarioID string) (*Info, error)
}

// Cache holds per-scenario schema info, loaded lazily on first access and
// invalidated after every successful mutation. The staleness window is
// bounded by invalidate-on-mutation: no caller can validate against a cache
// older than the scenario's most recent mutation.
type Cache struct {
	mu      sync.RWMutex
	loader  Loader
	entries map[string]*Info
}

// NewCache creates a schema cache backed by the given loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader:  loader,
		entries: make(map[string]*Info),
	}
}

// Get returns the schema for a scenario, introspecting on first access.
func (c *Cache) Get(ctx context.Context, scenarioID string) (*Info, error) {
	c.mu.RLock()
	info, ok := c.entries[scenarioID]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := c.loader.IntrospectSchema(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[scenarioID] = info
	c.mu.Unlock()
	return info, nil
}

// Invalidate drops the cached schema for a scenario.
func (c *Cache) Invalidate(scenarioID string) {
	c.mu.Lock()
	delete(c.entries, scenarioID)
	c.mu.Unlock()
}
