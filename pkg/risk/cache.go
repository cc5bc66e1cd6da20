package risk

import "sync"

// Cache holds the latest score per entity. A lookup hits only when the cached
// score was computed on the requested snapshot version; writes for a version
// older than the cached one are dropped.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]RiskScore
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]RiskScore)}
}

// Get returns the cached score of id computed on version.
func (c *Cache) Get(id string, version uint64) (RiskScore, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.entries[id]
	if !ok || s.SnapshotVersion != version {
		return RiskScore{}, false
	}
	return s.Clone(), true
}

// Put stores a score unless a score of a newer snapshot is already cached.
// It reports whether the score was stored.
func (c *Cache) Put(s RiskScore) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[s.EntityID]; ok && cur.SnapshotVersion > s.SnapshotVersion {
		return false
	}
	c.entries[s.EntityID] = s.Clone()
	return true
}

// Invalidate removes the given entities.
func (c *Cache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

// Len returns the number of cached scores.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
