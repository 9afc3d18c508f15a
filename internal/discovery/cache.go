package discovery

import (
	"slices"
	"sync"

	"cligate/internal/models"
)

// Cache holds the discovered model set. Once populated it stays
// authoritative until Clear is called; there is no expiry.
type Cache struct {
	mu     sync.RWMutex
	models []models.ModelDescriptor
	filled bool
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Get returns a copy of the cached set and whether it has been populated.
func (c *Cache) Get() ([]models.ModelDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled {
		return nil, false
	}
	return slices.Clone(c.models), true
}

// Set replaces the cached set.
func (c *Cache) Set(set []models.ModelDescriptor) {
	c.mu.Lock()
	c.models = slices.Clone(set)
	c.filled = true
	c.mu.Unlock()
}

// Clear empties the cache so the next read probes again.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.models = nil
	c.filled = false
	c.mu.Unlock()
}
