package extract

import (
	"fmt"
	"testing"
	"time"

	"github.com/receiptflow/receiptflow/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := newCandidateCache(5*time.Minute, 100)
		defer cache.Close()

		_, found := cache.get("non-existent")
		assert.False(t, found)

		candidate := model.ExtractionCandidate{
			Vendor:     "Cafe ABC",
			Amount:     42.50,
			Confidence: 0.92,
		}
		cache.put("fp1", candidate)

		retrieved, found := cache.get("fp1")
		assert.True(t, found)
		assert.Equal(t, candidate, retrieved)

		assert.Equal(t, 1, cache.size())

		cache.clear()
		assert.Equal(t, 0, cache.size())
		_, found = cache.get("fp1")
		assert.False(t, found)
	})

	t.Run("expiration", func(t *testing.T) {
		cache := newCandidateCache(50*time.Millisecond, 100)
		defer cache.Close()

		cache.put("fp2", model.ExtractionCandidate{Vendor: "Shop"})

		_, found := cache.get("fp2")
		assert.True(t, found)

		time.Sleep(100 * time.Millisecond)

		_, found = cache.get("fp2")
		assert.False(t, found)
	})

	t.Run("last writer wins", func(t *testing.T) {
		cache := newCandidateCache(5*time.Minute, 100)
		defer cache.Close()

		cache.put("fp3", model.ExtractionCandidate{Vendor: "First"})
		cache.put("fp3", model.ExtractionCandidate{Vendor: "Second"})

		retrieved, found := cache.get("fp3")
		require.True(t, found)
		assert.Equal(t, "Second", retrieved.Vendor)
		assert.Equal(t, 1, cache.size())
	})

	t.Run("lru eviction at capacity", func(t *testing.T) {
		cache := newCandidateCache(5*time.Minute, 3)
		defer cache.Close()

		cache.put("a", model.ExtractionCandidate{Vendor: "A"})
		cache.put("b", model.ExtractionCandidate{Vendor: "B"})
		cache.put("c", model.ExtractionCandidate{Vendor: "C"})

		// Touch "a" so "b" becomes least recently used.
		_, found := cache.get("a")
		require.True(t, found)

		cache.put("d", model.ExtractionCandidate{Vendor: "D"})

		_, found = cache.get("b")
		assert.False(t, found, "least recently used entry should be evicted")
		_, found = cache.get("a")
		assert.True(t, found)
		_, found = cache.get("c")
		assert.True(t, found)
		_, found = cache.get("d")
		assert.True(t, found)
		assert.Equal(t, 3, cache.size())
	})

	t.Run("expired entries evicted before live ones", func(t *testing.T) {
		cache := newCandidateCache(5*time.Minute, 3)
		defer cache.Close()

		cache.put("live1", model.ExtractionCandidate{Vendor: "L1"})
		cache.put("live2", model.ExtractionCandidate{Vendor: "L2"})
		cache.put("stale", model.ExtractionCandidate{Vendor: "S"})

		// Force the stale entry's expiry into the past.
		cache.mu.Lock()
		elem := cache.entries["stale"]
		elem.Value.(*cacheEntry).expiry = time.Now().Add(-time.Minute)
		cache.mu.Unlock()

		// The stale entry is the most recently used, but it should still be
		// the one evicted.
		cache.put("new", model.ExtractionCandidate{Vendor: "N"})

		_, found := cache.get("stale")
		assert.False(t, found)
		_, found = cache.get("live1")
		assert.True(t, found)
		_, found = cache.get("live2")
		assert.True(t, found)
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := newCandidateCache(5*time.Minute, 100)
		defer cache.Close()

		done := make(chan bool)
		go func() {
			for i := 0; i < 100; i++ {
				cache.put(fmt.Sprintf("fp-%d", i%10), model.ExtractionCandidate{Vendor: "V"})
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				_, _ = cache.get(fmt.Sprintf("fp-%d", i%10))
			}
			done <- true
		}()

		for i := 0; i < 2; i++ {
			<-done
		}

		cache.put("after-concurrent", model.ExtractionCandidate{Vendor: "Final"})
		_, found := cache.get("after-concurrent")
		assert.True(t, found)
	})
}
