package tangguh

import (
	"container/list"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// Cache is the response cache contract: a bounded key→value store with
// per-entry TTL. Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value json.RawMessage, ttl time.Duration)
	Delete(key string)
	Clear()
	Len() int
	Stats() CacheStats
}

type lruEntry struct {
	key       string
	value     json.RawMessage
	createdAt time.Time
	ttl       time.Duration
	hitCount  uint64
}

// LRUCache is the default Cache: strict least-recently-used eviction at
// capacity plus lazy per-entry TTL expiry on access. Both read hits and
// writes refresh recency.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	hits     uint64
	misses   uint64
}

// NewLRUCache creates a cache bounded to capacity entries. A capacity of
// zero or less falls back to a single entry.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached value if present and fresh, refreshing its recency.
// Expired entries are evicted lazily here.
func (c *LRUCache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*lruEntry)
	if time.Since(entry.createdAt) >= entry.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	entry.hitCount++
	c.hits++
	return entry.value, true
}

// Set stores a value, evicting the least-recently-used entry first when the
// cache is at capacity. The new entry becomes most recently used.
func (c *LRUCache) Set(key string, value json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.createdAt = time.Now()
		entry.ttl = ttl
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}

	c.items[key] = c.ll.PushFront(&lruEntry{
		key:       key,
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
	})
}

// Delete removes a single entry.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// Clear removes all entries. Hit/miss counters survive so observers keep a
// consistent history across manual invalidation.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the current number of entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns size, hit and miss counters and the derived hit rate.
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:   c.ll.Len(),
		Hits:   c.hits,
		Misses: c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// DefaultCacheKeyFunc builds a key from method + params with an fnv-1a hash
// over the payload to keep keys short for large params.
func DefaultCacheKeyFunc(method string, params json.RawMessage) string {
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(params)
	return method + ":" + strconv.FormatUint(h.Sum64(), 16)
}
