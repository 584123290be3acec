package cache

import (
	"context"
	"fragloadd/internal/events"
	"fragloadd/internal/logger"
	"sync"
	"time"
)

const defaultEvictionInterval = 10 * time.Second

type entry struct {
	data     []byte
	storedAt time.Time
}

// SegmentCache provides a thread-safe, in-memory cache for loaded fragment payloads.
type SegmentCache struct {
	mutex  sync.RWMutex
	cache  map[string]entry
	logger logger.Logger
	ttl    time.Duration
	now    func() time.Time

	// EvictionInterval is how often expired payloads are removed.
	EvictionInterval time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates and returns a new SegmentCache keeping payloads for ttl.
// A zero ttl keeps payloads until they are overwritten.
func New(log logger.Logger, ttl time.Duration) *SegmentCache {
	ctx, cancel := context.WithCancel(context.Background())
	return &SegmentCache{
		cache:            make(map[string]entry),
		logger:           log,
		ttl:              ttl,
		now:              time.Now,
		EvictionInterval: defaultEvictionInterval,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start begins the background eviction worker.
func (sc *SegmentCache) Start() {
	sc.logger.Infof("Starting fragment cache eviction worker...")
	go sc.evictionWorker()
}

// Stop gracefully shuts down the eviction worker.
func (sc *SegmentCache) Stop() {
	sc.logger.Infof("Stopping fragment cache eviction worker...")
	sc.cancel()
}

// Set adds a payload to the cache.
func (sc *SegmentCache) Set(key string, data []byte) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.cache[key] = entry{data: data, storedAt: sc.now()}
	sc.logger.Debugf("Cached fragment: %s, size: %d bytes", key, len(data))
}

// Get retrieves a payload from the cache.
func (sc *SegmentCache) Get(key string) ([]byte, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	e, found := sc.cache[key]
	return e.data, found
}

// Len returns the number of cached payloads.
func (sc *SegmentCache) Len() int {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return len(sc.cache)
}

// HandleLoaded stores the payload of a FRAGMENT_LOADED notification.
func (sc *SegmentCache) HandleLoaded(n events.Notification) {
	if n.Event != events.FragLoaded || n.Frag == nil {
		return
	}
	sc.Set(n.Frag.ID, n.Payload)
}

// evictionWorker runs in the background to clean up expired payloads.
func (sc *SegmentCache) evictionWorker() {
	ticker := time.NewTicker(sc.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.ctx.Done():
			sc.logger.Infof("Eviction worker stopped.")
			return
		case <-ticker.C:
			sc.runEviction()
		}
	}
}

func (sc *SegmentCache) runEviction() {
	if sc.ttl <= 0 {
		return
	}
	sc.logger.Debugf("Running cache eviction...")
	deadline := sc.now().Add(-sc.ttl)

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	evictedCount := 0
	for key, e := range sc.cache {
		if e.storedAt.Before(deadline) {
			delete(sc.cache, key)
			evictedCount++
		}
	}

	if evictedCount > 0 {
		sc.logger.Infof("Evicted %d fragments from cache. Current cache size: %d fragments.", evictedCount, len(sc.cache))
	} else {
		sc.logger.Debugf("No fragments to evict. Current cache size: %d fragments.", len(sc.cache))
	}
}
