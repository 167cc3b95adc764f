// Package cache provides caching implementations for Harrier.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/metrics"
)

// LRUCache is a size-bounded, TTL-aware cache safe for concurrent use.
// Used as the Community cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	now     func() time.Time
	layer   string
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache holds at most maxSize entries, 10000 when maxSize is not positive.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
		layer:   "memory",
	}
}

// Get returns nil, nil on a miss. Expired entries are dropped on read.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	val := c.get(key)
	result := "hit"
	if val == nil {
		result = "miss"
	}
	metrics.CacheLookups.WithLabelValues(c.layer, result).Inc()
	return val, nil
}

func (c *LRUCache) get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.expiresAt) {
		c.evict(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return e.value
}

// Set inserts or refreshes key, evicting from the cold end past capacity.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.evictOldest()
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.evict(elem)
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *LRUCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*lruEntry).expiresAt) {
			c.evict(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Ping always succeeds; the cache is in process.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.order.Init()
	return nil
}

// Stats reports the current entry count and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) evict(elem *list.Element) {
	delete(c.items, c.order.Remove(elem).(*lruEntry).key)
}

func (c *LRUCache) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.evict(elem)
	}
}
