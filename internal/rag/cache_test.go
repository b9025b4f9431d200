package rag

import (
	"testing"
	"time"
)

func cachedResults(label string) []ScoredChunk {
	return []ScoredChunk{{Chunk: Chunk{ID: label, Seq: 0, Text: label}, Score: 0.9}}
}

func Test_QueryCache_PutThenGet(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache(10, time.Minute)

	if _, ok := cache.Get("vacation days", 3); ok {
		t.Fatal("Get on empty cache reported a hit")
	}

	cache.Put("vacation days", 3, cachedResults("a"))
	got, ok := cache.Get("vacation days", 3)
	if !ok {
		t.Fatal("Get after Put missed")
	}
	if len(got) != 1 || got[0].Chunk.ID != "a" {
		t.Fatalf("Get returned %+v, want the stored results", got)
	}

	// Same question with a different topK is a different entry.
	if _, ok := cache.Get("vacation days", 5); ok {
		t.Fatal("Get with different topK reported a hit")
	}
}

func Test_QueryCache_InvalidateDropsEverything(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache(10, time.Minute)
	cache.Put("q1", 3, cachedResults("a"))
	cache.Put("q2", 3, cachedResults("b"))

	cache.Invalidate()

	if _, ok := cache.Get("q1", 3); ok {
		t.Fatal("q1 survived Invalidate")
	}
	if _, ok := cache.Get("q2", 3); ok {
		t.Fatal("q2 survived Invalidate")
	}
}

func Test_QueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache(2, time.Minute)
	cache.Put("q1", 3, cachedResults("a"))
	cache.Put("q2", 3, cachedResults("b"))

	// Touch q1 so q2 becomes the eviction candidate.
	if _, ok := cache.Get("q1", 3); !ok {
		t.Fatal("q1 missing before eviction")
	}

	cache.Put("q3", 3, cachedResults("c"))

	if _, ok := cache.Get("q2", 3); ok {
		t.Fatal("q2 should have been evicted as least recently used")
	}
	if _, ok := cache.Get("q1", 3); !ok {
		t.Fatal("q1 was evicted despite being recently used")
	}
	if _, ok := cache.Get("q3", 3); !ok {
		t.Fatal("q3 missing after insert")
	}
}

func Test_QueryCache_ExpiredEntriesMiss(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache(10, time.Nanosecond)
	cache.Put("q1", 3, cachedResults("a"))

	time.Sleep(5 * time.Millisecond)

	if _, ok := cache.Get("q1", 3); ok {
		t.Fatal("expired entry reported a hit")
	}
}
