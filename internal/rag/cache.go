package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// QueryCache memoizes query results for the serve path. Entries expire after
// a TTL, the least recently used entry is evicted at capacity, and a
// generation counter invalidates everything after a rebuild. Results are
// deterministic for a fixed index, so caching never changes what a caller
// observes — only how fast.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gen     uint64
}

type cacheEntry struct {
	results   []ScoredChunk
	timestamp time.Time
	gen       uint64
}

// NewQueryCache constructs a QueryCache with the given capacity and TTL.
// Non-positive values fall back to 100 entries and 5 minutes.
func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(query string, topK int) string {
	data := []byte(query)
	data = append(data, byte(topK>>8), byte(topK))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// Get returns the cached results for (query, topK) if present, fresh, and
// from the current index generation.
func (c *QueryCache) Get(query string, topK int) ([]ScoredChunk, bool) {
	key := cacheKey(query, topK)

	c.mu.RLock()
	entry, exists := c.entries[key]
	currentGen := c.gen
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Since(entry.timestamp) > c.ttl || entry.gen != currentGen {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()
	return entry.results, true
}

// Put stores results for (query, topK), evicting the least recently used
// entry when the cache is full.
func (c *QueryCache) Put(query string, topK int, results []ScoredChunk) {
	key := cacheKey(query, topK)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{results: results, timestamp: time.Now(), gen: c.gen}
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// Invalidate bumps the generation counter so every cached entry is treated
// as stale. Called after a forced rebuild.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}
