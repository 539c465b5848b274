package lazyembed

import (
	"sort"
	"sync"
	"time"
)

// ResourceID names one external embeddable resource, typically its URL.
type ResourceID string

// Warmth is the cache contract slots depend on. It is a best-effort hint:
// losing it only costs perceived performance.
type Warmth interface {
	IsWarm(id ResourceID) bool
	RecordLoaded(id ResourceID)
}

type CacheEntry struct {
	Loaded    bool
	Timestamp time.Time
}

// Cache remembers which resources finished loading recently. Entries older
// than the expiry are treated as absent; the size never exceeds maxEntries.
type Cache struct {
	expiry     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[ResourceID]CacheEntry
}

func NewCache(expiry time.Duration, maxEntries int, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		expiry:     expiry,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[ResourceID]CacheEntry),
	}
}

// RecordLoaded marks id as loaded now, evicting the oldest entries if the
// cache grows past its bound.
func (c *Cache) RecordLoaded(id ResourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = CacheEntry{Loaded: true, Timestamp: c.now()}
	c.evictLocked(id)
}

// IsWarm reports whether id loaded within the expiry window. Expired entries
// are dropped on the way out.
func (c *Cache) IsWarm(id ResourceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[id]
	if !ok {
		return false
	}
	if c.now().Sub(ent.Timestamp) > c.expiry {
		delete(c.entries, id)
		return false
	}
	return ent.Loaded
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the live (unexpired) entries.
func (c *Cache) Entries() map[ResourceID]CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[ResourceID]CacheEntry, len(c.entries))
	for id, ent := range c.entries {
		if now.Sub(ent.Timestamp) > c.expiry {
			continue
		}
		out[id] = ent
	}
	return out
}

// evictLocked drops the oldest entries until the bound holds. The entry just
// written (keep) always survives.
func (c *Cache) evictLocked(keep ResourceID) {
	over := len(c.entries) - c.maxEntries
	if over <= 0 {
		return
	}
	ids := make([]ResourceID, 0, len(c.entries))
	for id := range c.entries {
		if id != keep {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.entries[ids[i]].Timestamp, c.entries[ids[j]].Timestamp
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.Before(b)
	})
	for _, id := range ids[:over] {
		delete(c.entries, id)
	}
}
