package registry

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// AttrCache is a bounded cache of parsed get-printer-attributes responses,
// keyed by entry ID (spec §3 "Capability cache"). Bounding it means a
// registry with many thousands of transient entries (a large, noisy
// network) doesn't grow its capability memory without limit; entries
// aged out simply refetch on next reconcile, which is a cache miss, not a
// correctness problem — §9's stale-cache design note this is meant to
// close still applies at the Entry level via AttrsFetchedAt.
type AttrCache struct {
	cache *lru.Cache[string, map[string][]string]
}

// NewAttrCache creates a cache holding up to size parsed attribute sets.
func NewAttrCache(size int) *AttrCache {
	if size <= 0 {
		size = 512
	}
	c, _ := lru.New[string, map[string][]string](size)
	return &AttrCache{cache: c}
}

func (c *AttrCache) Get(entryID string) (map[string][]string, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	return c.cache.Get(entryID)
}

func (c *AttrCache) Put(entryID string, attrs map[string][]string) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Add(entryID, attrs)
}

func (c *AttrCache) Invalidate(entryID string) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Remove(entryID)
}
