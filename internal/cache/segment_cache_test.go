package cache

import (
	"fragloadd/internal/events"
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"strconv"
	"sync"
	"testing"
	"time"
)

// TestSegmentCache_SetAndGet verifies the basic Set and Get operations.
func TestSegmentCache_SetAndGet(t *testing.T) {
	sc := New(logger.Nop(), time.Minute)

	key := "test_fragment_1"
	data := []byte("fragment data")

	if _, found := sc.Get(key); found {
		t.Errorf("Expected key '%s' to not be found, but it was", key)
	}

	sc.Set(key, data)

	retrievedData, found := sc.Get(key)
	if !found {
		t.Fatalf("Expected key '%s' to be found, but it was not", key)
	}
	if string(retrievedData) != string(data) {
		t.Errorf("Expected data '%s', got '%s'", string(data), string(retrievedData))
	}
}

// TestSegmentCache_Eviction verifies that only expired payloads are removed.
func TestSegmentCache_Eviction(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := New(logger.Nop(), time.Minute)
	sc.now = func() time.Time { return now }

	sc.Set("old_fragment", []byte("data1"))
	now = now.Add(50 * time.Second)
	sc.Set("recent_fragment", []byte("data2"))
	now = now.Add(20 * time.Second)

	sc.runEviction()

	if _, found := sc.Get("old_fragment"); found {
		t.Error("old_fragment should have been evicted")
	}
	if _, found := sc.Get("recent_fragment"); !found {
		t.Error("recent_fragment should not be evicted")
	}
	if sc.Len() != 1 {
		t.Errorf("Expected 1 cached fragment, got %d", sc.Len())
	}
}

// TestSegmentCache_NoTTL verifies that a zero TTL disables eviction.
func TestSegmentCache_NoTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := New(logger.Nop(), 0)
	sc.now = func() time.Time { return now }

	sc.Set("fragment", []byte("data"))
	now = now.Add(24 * time.Hour)
	sc.runEviction()

	if _, found := sc.Get("fragment"); !found {
		t.Error("fragment should be kept without TTL")
	}
}

// TestSegmentCache_EvictionWorker verifies that the worker evicts on its own.
func TestSegmentCache_EvictionWorker(t *testing.T) {
	sc := New(logger.Nop(), time.Millisecond)
	sc.EvictionInterval = 5 * time.Millisecond
	sc.Set("fragment", []byte("data"))

	sc.Start()
	defer sc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sc.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Eviction worker did not evict the expired fragment")
}

// TestSegmentCache_HandleLoaded verifies that loaded notifications are cached by fragment id.
func TestSegmentCache_HandleLoaded(t *testing.T) {
	sc := New(logger.Nop(), time.Minute)

	n := events.New(events.FragLoaded, &models.Fragment{ID: "frag-1"})
	n.Payload = []byte("payload")
	sc.HandleLoaded(n)
	sc.HandleLoaded(events.New(events.FragSkipped, &models.Fragment{ID: "frag-2"}))
	sc.HandleLoaded(events.New(events.FragLoaded, nil))

	data, found := sc.Get("frag-1")
	if !found || string(data) != "payload" {
		t.Errorf("Expected payload for frag-1, got '%s' (found=%v)", data, found)
	}
	if _, found := sc.Get("frag-2"); found {
		t.Error("Skipped fragments must not be cached")
	}
}

// TestSegmentCache_ConcurrentAccess verifies that the cache handles concurrent reads and writes safely.
func TestSegmentCache_ConcurrentAccess(t *testing.T) {
	sc := New(logger.Nop(), time.Minute)

	var wg sync.WaitGroup
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sc.Set("concurrent_key_"+strconv.Itoa(i), []byte("data_"+strconv.Itoa(i)))
		}(i)
		go func(i int) {
			defer wg.Done()
			sc.Get("concurrent_key_" + strconv.Itoa(i))
		}(i)
	}

	wg.Wait()
	if sc.Len() != numGoroutines {
		t.Errorf("Expected %d cached fragments, got %d", numGoroutines, sc.Len())
	}
}
