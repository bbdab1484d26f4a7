package runbook

import (
	"sync"
)

// Cache is the daemon's in-process, per-hash runbook cache. State only
// ever stores a RunbookHash; whenever a handler needs the actual
// declarations it looks them up here, loading from disk on a cache miss.
type Cache struct {
	mu     sync.RWMutex
	byHash map[string]*Runbook
	byPath map[string]string // path -> last-seen hash, for hot-reload checks
}

// NewCache returns an empty runbook cache.
func NewCache() *Cache {
	return &Cache{
		byHash: make(map[string]*Runbook),
		byPath: make(map[string]string),
	}
}

// Get returns the cached runbook for hash, if present.
func (c *Cache) Get(hash string) (*Runbook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rb, ok := c.byHash[hash]
	return rb, ok
}

// Put inserts rb under hash, overwriting any previous entry for that hash.
func (c *Cache) Put(hash string, rb *Runbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHash[hash] = rb
}

// Load parses path and caches the result under its content hash. If that
// hash was already cached, the cached runbook is returned in place of the
// fresh parse. Either way it returns the runbook and its hash.
func (c *Cache) Load(path string) (*Runbook, string, error) {
	rb, hash, err := ParseFile(path)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.byHash[hash]; ok {
		c.byPath[path] = hash
		return cached, hash, nil
	}
	c.byHash[hash] = rb
	c.byPath[path] = hash
	return rb, hash, nil
}

// Changed reports whether path's on-disk content hash differs from the
// hash last observed for it — the cron scheduler's hot-reload check
// (spec: "Reload the runbook from disk if content hash changed").
func (c *Cache) Changed(path, lastHash string) (bool, string, error) {
	_, hash, err := ParseFile(path)
	if err != nil {
		return false, "", err
	}
	return hash != lastHash, hash, nil
}

// LoadIfChanged loads path through Load (always parsing it) and reports
// whether its hash differs from lastHash, returning (nil, lastHash, false,
// nil) when it does not.
func (c *Cache) LoadIfChanged(path, lastHash string) (*Runbook, string, bool, error) {
	rb, hash, err := c.Load(path)
	if err != nil {
		return nil, "", false, err
	}
	if hash == lastHash {
		return nil, lastHash, false, nil
	}
	return rb, hash, true, nil
}
