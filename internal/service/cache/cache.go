package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sandevgo/contextd/internal/core"
)

type Stats struct {
	Entries     int   `json:"entries"`
	Capacity    int   `json:"capacity"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	ApproxBytes int64 `json:"approx_bytes"`
}

// ResultCache maps content fingerprints to extraction results and evicts the
// least recently used entry once it holds more than its capacity.
type ResultCache struct {
	mu       sync.RWMutex
	lru      *simplelru.LRU[string, core.ContextRecord]
	capacity int

	hits      int64
	misses    int64
	evictions int64
	bytes     int64
}

func New(capacity int) (*ResultCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}

	c := &ResultCache{capacity: capacity}
	lru, err := simplelru.NewLRU[string, core.ContextRecord](capacity, func(key string, rec core.ContextRecord) {
		c.bytes -= entrySize(key, rec)
	})
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

func entrySize(key string, rec core.ContextRecord) int64 {
	return int64(len(key) + rec.ApproxSize())
}

// Get returns a copy of the cached record and marks it as recently used.
func (c *ResultCache) Get(fingerprint string) (core.ContextRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.lru.Get(fingerprint)
	if !ok {
		c.misses++
		return core.ContextRecord{}, false
	}
	c.hits++
	return rec.Clone(), true
}

// Peek looks an entry up without touching its recency.
func (c *ResultCache) Peek(fingerprint string) (core.ContextRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.lru.Peek(fingerprint)
	if !ok {
		return core.ContextRecord{}, false
	}
	return rec.Clone(), true
}

// Put stores a copy of rec. It reports whether an older entry was evicted.
func (c *ResultCache) Put(fingerprint string, rec core.ContextRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(fingerprint); ok {
		c.bytes -= entrySize(fingerprint, old)
	}
	c.bytes += entrySize(fingerprint, rec)

	evicted := c.lru.Add(fingerprint, rec.Clone())
	if evicted {
		c.evictions++
	}
	return evicted
}

// EvictIfNeeded drops least recently used entries until the cache is within
// capacity. Put already keeps the bound, so a non-nil error reports a broken
// invariant that has now been repaired.
func (c *ResultCache) EvictIfNeeded() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.lru.Len()
	if size <= c.capacity {
		return nil
	}
	for c.lru.Len() > c.capacity {
		c.lru.RemoveOldest()
		c.evictions++
	}
	return &core.CacheCapacityError{Size: size, Capacity: c.capacity}
}

func (c *ResultCache) Remove(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(fingerprint)
}

func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Keys returns fingerprints from least to most recently used.
func (c *ResultCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Keys()
}

func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
}

func (c *ResultCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Entries:     c.lru.Len(),
		Capacity:    c.capacity,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		ApproxBytes: c.bytes,
	}
}
