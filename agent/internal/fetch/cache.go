package fetch

import (
	"encoding/json"
	"sync"
)

// Cache maps a URL to the payload fetched for it during one run.
// A present entry with a nil payload records a 404.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]json.RawMessage)}
}

// Get returns the cached payload for url and whether an entry exists.
func (c *Cache) Get(url string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[url]
	return p, ok
}

// Put records payload for url. Pass nil to cache a not-found result.
func (c *Cache) Put(url string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = payload
}

// Len returns the number of cached URLs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
