// Package cache provides condition result caching for the pattern engine.
//
// Evaluating a condition means scanning attribute values for every item in
// the universe. Patterns often repeat the same condition on several vertices,
// and a query re-run over the same universe asks the same questions again, so
// results are memoized by condition text and universe fingerprint.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration for stale results
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Usage:
//
//	cache := NewResultCache(1000, 5*time.Minute)
//
//	key := Key("object", cond.String(), universe.Fingerprint())
//	if ids, ok := cache.Get(key); ok {
//		return ids // Cache hit
//	}
//
//	ids := evaluate(cond)
//	cache.Put(key, ids)
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/proximity/pkg/storage"
)

// ResultCache is a thread-safe LRU cache of condition results.
//
// Cached sets are shared between callers: they are returned as stored and
// must be treated as immutable. Callers that need to modify a result clone it
// first.
type ResultCache struct {
	mu sync.Mutex

	// Configuration
	maxSize int
	ttl     time.Duration
	enabled bool

	// LRU list and map
	list  *list.List
	items map[uint64]*list.Element

	// Statistics
	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       uint64
	value     storage.IDSet
	expiresAt time.Time
}

// NewResultCache creates a new result cache.
//
// Parameters:
//   - maxSize: Maximum number of cached results (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ResultCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key hashes the given parts into a cache key.
//
// Parts are separated so that ("ab", "c") and ("a", "bc") differ.
func Key(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Get retrieves a cached result if present and not expired.
func (c *ResultCache) Get(key uint64) (storage.IDSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

// Put adds a result to the cache.
//
// If the cache is full, the least recently used entry is evicted.
// If the key already exists, the value is replaced.
func (c *ResultCache) Put(key uint64, value storage.IDSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// Remove removes an entry from the cache.
func (c *ResultCache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
// Call it after the underlying store changes.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *ResultCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := c.Len()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// CacheStats holds cache performance statistics.
type CacheStats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops all entries.
func (c *ResultCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[uint64]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *ResultCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *ResultCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
