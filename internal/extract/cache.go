package extract

import (
	"container/list"
	"sync"
	"time"

	"github.com/receiptflow/receiptflow/internal/model"
)

// cacheEntry represents a cached extraction candidate keyed by fingerprint.
type cacheEntry struct {
	expiry      time.Time
	fingerprint string
	candidate   model.ExtractionCandidate
}

// candidateCache provides thread-safe, bounded caching of extraction results.
// Entries expire after the TTL; once the size cap is reached, eviction
// prefers expired entries and falls back to the least-recently-used one.
// Writes are last-writer-wins: candidates for a fingerprint are semantically
// interchangeable.
type candidateCache struct {
	entries map[string]*list.Element
	recency *list.List // front = most recently used
	stopCh  chan struct{}
	ttl     time.Duration
	cap     int
	mu      sync.Mutex
}

// newCandidateCache creates a cache with the given TTL and size cap.
func newCandidateCache(ttl time.Duration, capacity int) *candidateCache {
	if ttl == 0 {
		ttl = 15 * time.Minute // Default TTL
	}
	if capacity <= 0 {
		capacity = 10000
	}

	cache := &candidateCache{
		entries: make(map[string]*list.Element),
		recency: list.New(),
		ttl:     ttl,
		cap:     capacity,
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// get retrieves a candidate if present and not expired, marking it as
// recently used.
func (c *candidateCache) get(fingerprint string) (model.ExtractionCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[fingerprint]
	if !exists {
		return model.ExtractionCandidate{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiry) {
		c.recency.Remove(elem)
		delete(c.entries, fingerprint)
		return model.ExtractionCandidate{}, false
	}

	c.recency.MoveToFront(elem)
	return entry.candidate, true
}

// put stores a candidate, evicting if the cache is at capacity.
func (c *candidateCache) put(fingerprint string, candidate model.ExtractionCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[fingerprint]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.candidate = candidate
		entry.expiry = time.Now().Add(c.ttl)
		c.recency.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.cap {
		c.evictLocked()
	}

	elem := c.recency.PushFront(&cacheEntry{
		fingerprint: fingerprint,
		candidate:   candidate,
		expiry:      time.Now().Add(c.ttl),
	})
	c.entries[fingerprint] = elem
}

// evictLocked removes one entry: the least-recently-used expired entry if any
// exists, otherwise the least-recently-used entry outright.
func (c *candidateCache) evictLocked() {
	now := time.Now()

	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if now.After(entry.expiry) {
			c.recency.Remove(elem)
			delete(c.entries, entry.fingerprint)
			return
		}
	}

	if elem := c.recency.Back(); elem != nil {
		entry := elem.Value.(*cacheEntry)
		c.recency.Remove(elem)
		delete(c.entries, entry.fingerprint)
	}
}

// cleanup periodically removes expired entries.
func (c *candidateCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var next *list.Element
			for elem := c.recency.Front(); elem != nil; elem = next {
				next = elem.Next()
				entry := elem.Value.(*cacheEntry)
				if now.After(entry.expiry) {
					c.recency.Remove(elem)
					delete(c.entries, entry.fingerprint)
				}
			}
			c.mu.Unlock()
		}
	}
}

// clear removes all entries from the cache.
func (c *candidateCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
}

// size returns the number of entries in the cache.
func (c *candidateCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *candidateCache) Close() {
	close(c.stopCh)
}
