// Package cache keeps recently used investigation snapshots in memory so a
// turn does not have to read the State Store for an aggregate it just wrote.
//
// Entries are the serialized aggregate bytes, keyed by investigation id.
// The cache is a bounded LRU with a per-entry TTL:
//   - Max entries: oldest entry evicted when the bound is exceeded
//   - TTL: entries older than the TTL read as misses
//   - Invalidation: on delete, on purge, and whenever a save fails
//
// The store stays authoritative. A miss always falls through to it.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxEntries = 1024
	DefaultTTL        = 5 * time.Minute
)

// SnapshotCache is a bounded TTL cache of serialized investigations.
// It is safe for concurrent use.
type SnapshotCache struct {
	lru    *expirable.LRU[string, []byte]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports cumulative cache counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// NewSnapshotCache returns a cache holding at most maxEntries snapshots for
// at most ttl each. Non-positive arguments fall back to the defaults.
func NewSnapshotCache(maxEntries int, ttl time.Duration) *SnapshotCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

// Get returns a copy of the cached snapshot for id.
func (c *SnapshotCache) Get(id string) ([]byte, bool) {
	data, ok := c.lru.Get(id)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]byte(nil), data...), true
}

// Put stores a copy of data under id, replacing any previous snapshot.
func (c *SnapshotCache) Put(id string, data []byte) {
	c.lru.Add(id, append([]byte(nil), data...))
}

// Invalidate drops the snapshot for id.
func (c *SnapshotCache) Invalidate(id string) {
	c.lru.Remove(id)
}

// Purge drops every snapshot.
func (c *SnapshotCache) Purge() {
	c.lru.Purge()
}

// Stats returns the current counters.
func (c *SnapshotCache) Stats() Stats {
	return Stats{
		Entries: c.lru.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
