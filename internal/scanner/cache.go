package scanner

import (
	"sort"
	"sync"

	"stock-scanner/internal/model"
)

// Cache holds the latest snapshot per symbol. Writes happen only from the
// orchestrator's merge step; the HTTP API reads concurrently.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]*model.Snapshot
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{snapshots: make(map[string]*model.Snapshot)}
}

// Put stores a symbol's snapshot, replacing any previous cycle's entry.
func (c *Cache) Put(snap *model.Snapshot) {
	c.mu.Lock()
	c.snapshots[snap.Symbol] = snap
	c.mu.Unlock()
}

// Get returns the symbol's latest snapshot, or nil.
func (c *Cache) Get(symbol string) *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[symbol]
}

// All returns every cached snapshot sorted by strength score, strongest
// first. Ties break on symbol for stable output.
func (c *Cache) All() []*model.Snapshot {
	c.mu.RLock()
	out := make([]*model.Snapshot, 0, len(c.snapshots))
	for _, snap := range c.snapshots {
		out = append(out, snap)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StrengthScore != out[j].StrengthScore {
			return out[i].StrengthScore > out[j].StrengthScore
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
