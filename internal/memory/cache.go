package memory

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// evictionOrder drains lower tiers before touching hot entries. Hot-tier
// entries leave the cache only under capacity duress once every other tier
// is exhausted.
var evictionOrder = []Tier{TierArchived, TierCold, TierWarm, TierHot}

// Cache is a write-through, in-memory cache of hot-tier memories in front
// of the durable store. Capacity is bounded per scope and each scope's
// shard is locked independently, so eviction in one scope never blocks
// reads in another.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	shards   map[Scope]*cacheShard
	scopeOf  map[string]Scope
}

// cacheShard holds one scope's entries plus a recency list per tier.
// The per-tier lists only order entries; eviction is driven by the shard.
type cacheShard struct {
	mu      sync.Mutex
	entries map[string]*Memory
	recency map[Tier]*simplelru.LRU[string, struct{}]
}

// NewCache creates a cache bounding each scope to capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		shards:   make(map[Scope]*cacheShard),
		scopeOf:  make(map[string]Scope),
	}
}

func (c *Cache) shard(scope Scope) *cacheShard {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh, ok := c.shards[scope]
	if !ok {
		sh = &cacheShard{
			entries: make(map[string]*Memory),
			recency: make(map[Tier]*simplelru.LRU[string, struct{}]),
		}
		for _, t := range evictionOrder {
			// Sized to the scope capacity so the list itself never
			// evicts; the shard decides eviction order across tiers.
			lru, _ := simplelru.NewLRU[string, struct{}](c.capacity, nil)
			sh.recency[t] = lru
		}
		c.shards[scope] = sh
	}
	return sh
}

// Get returns the cached memory for id, or nil on a miss. A hit refreshes
// the entry's recency within its tier.
func (c *Cache) Get(id string) *Memory {
	c.mu.RLock()
	scope, ok := c.scopeOf[id]
	c.mu.RUnlock()
	if !ok {
		cacheMisses.Inc()
		return nil
	}

	sh := c.shard(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	m, ok := sh.entries[id]
	if !ok {
		cacheMisses.Inc()
		return nil
	}
	sh.recency[m.Tier].Add(id, struct{}{})
	cacheHits.Inc()
	return m.Clone()
}

// Put inserts or replaces an entry, evicting per tier order if the scope is
// over capacity. Callers must have written the durable store first; the
// cache never holds uncommitted state.
func (c *Cache) Put(m *Memory) {
	sh := c.shard(m.Scope)

	c.mu.Lock()
	c.scopeOf[m.ID] = m.Scope
	c.mu.Unlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if old, ok := sh.entries[m.ID]; ok && old.Tier != m.Tier {
		sh.recency[old.Tier].Remove(m.ID)
	}
	sh.entries[m.ID] = m.Clone()
	sh.recency[m.Tier].Add(m.ID, struct{}{})

	for len(sh.entries) > c.capacity {
		if id, ok := sh.evictOne(); ok {
			c.mu.Lock()
			delete(c.scopeOf, id)
			c.mu.Unlock()
			cacheEvictions.Inc()
		} else {
			break
		}
	}
}

// evictOne removes the least-recently-accessed entry from the lowest
// populated tier. Caller holds the shard lock.
func (sh *cacheShard) evictOne() (string, bool) {
	for _, t := range evictionOrder {
		if id, _, ok := sh.recency[t].RemoveOldest(); ok {
			delete(sh.entries, id)
			return id, true
		}
	}
	return "", false
}

// Invalidate drops the entry for id, if present.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	scope, ok := c.scopeOf[id]
	if ok {
		delete(c.scopeOf, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	sh := c.shard(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if m, ok := sh.entries[id]; ok {
		sh.recency[m.Tier].Remove(id)
		delete(sh.entries, id)
	}
}

// Len returns the number of cached entries in a scope.
func (c *Cache) Len(scope Scope) int {
	c.mu.RLock()
	sh, ok := c.shards[scope]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.entries)
}

// Contains reports whether id is cached without refreshing its recency.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.scopeOf[id]
	return ok
}
