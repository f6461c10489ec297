package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fancool/perfcurve/internal/curve"
)

// MemoryCache implements the L1 in-memory cache with weighted LRU eviction.
// An entry weighs as much as the total knot count of its four curves, and
// both the entry count and the total weight are capped.
type MemoryCache struct {
	maxEntries int
	maxWeight  int
	weight     int

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// Synchronization
	mu sync.Mutex

	// Metrics
	stats   CacheStats
	onEvict func(key string)
}

// memoryCacheEntry represents an entry in the memory cache
type memoryCacheEntry struct {
	key       string
	model     *curve.Model
	weight    int
	timestamp time.Time
}

// NewMemoryCache creates a new memory cache. A non-positive limit disables
// the cache: Put becomes a no-op.
func NewMemoryCache(maxEntries, maxWeight int) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		maxWeight:  maxWeight,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stats: CacheStats{
			MaxEntries: maxEntries,
			MaxWeight:  maxWeight,
		},
	}
}

// Get retrieves a model from the cache and marks it most recently used.
func (c *MemoryCache) Get(key string) (*curve.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)

	c.stats.Hits++
	c.stats.LastAccess = time.Now()
	return elem.Value.(*memoryCacheEntry).model, true
}

// Put stores a model, replacing any entry under the same key, then evicts
// least recently used entries until both limits hold.
func (c *MemoryCache) Put(key string, model *curve.Model) {
	if c.maxEntries <= 0 || c.maxWeight <= 0 || model == nil {
		return
	}
	w := model.PCHIP.Knots()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	entry := &memoryCacheEntry{
		key:       key,
		model:     model,
		weight:    w,
		timestamp: time.Now(),
	}
	c.items[key] = c.eviction.PushFront(entry)
	c.weight += w

	for (len(c.items) > c.maxEntries || c.weight > c.maxWeight) && c.eviction.Len() > 0 {
		c.evictOldest()
	}
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.weight = 0
}

// Len returns the number of cached models.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Weight returns the current total knot count.
func (c *MemoryCache) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weight
}

// Contains checks if a key exists in the cache without updating LRU.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

// Keys returns the cached keys from most to least recently used.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*memoryCacheEntry).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Weight = c.weight
	stats.ItemCount = len(c.items)

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(*memoryCacheEntry).key
	c.removeElement(elem)
	c.stats.Evictions++
	c.stats.LastEvict = time.Now()
	if c.onEvict != nil {
		c.onEvict(key)
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.weight -= entry.weight
}
