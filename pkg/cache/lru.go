package cache

import (
	"container/list"
	"sync"

	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// lruEntry is one resident block in an LRU-family cache.
type lruEntry struct {
	key  Key
	blk  *block.Block
	size int64
	// multi marks entries that have been hit at least once since insertion.
	// Only the adaptive cache consults it.
	multi bool
}

// LRUCache is the strict-LRU on-heap tier. Blocks it holds are expected to
// be heap-owned; the reader's allocation rules guarantee that a block headed
// for this tier was never given a pooled buffer.
type LRUCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	entries  map[Key]*list.Element
	order    *list.List // front = most recent
	metrics  Metrics
}

// NewLRUCache creates a strict LRU cache bounded to capacity bytes.
func NewLRUCache(capacity int64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

func (c *LRUCache) Get(key Key, caching, reposition, updateMetrics bool) *block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	c.metrics.recordGet(ok, updateMetrics)
	if !ok {
		return nil
	}
	ent := el.Value.(*lruEntry)
	if reposition {
		c.order.MoveToFront(el)
		ent.multi = true
	}
	return ent.blk.Retain()
}

func (c *LRUCache) Put(key Key, blk *block.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}
	ent := &lruEntry{key: key, blk: blk.Retain(), size: blk.HeapSize()}
	c.entries[key] = c.order.PushFront(ent)
	c.size += ent.size
	c.metrics.inserts.Add(1)
	c.evictOverflowLocked()
}

func (c *LRUCache) evictOverflowLocked() {
	for c.size > c.capacity {
		el := c.order.Back()
		if el == nil {
			return
		}
		c.removeLocked(el)
	}
}

func (c *LRUCache) removeLocked(el *list.Element) {
	ent := el.Value.(*lruEntry)
	c.order.Remove(el)
	delete(c.entries, ent.key)
	c.size -= ent.size
	c.metrics.evictions.Add(1)
	ent.blk.Release()
}

func (c *LRUCache) Evict(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

func (c *LRUCache) EvictFile(fileName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*lruEntry).key.FileName == fileName {
			c.removeLocked(el)
			evicted++
		}
		el = next
	}
	return evicted
}

func (c *LRUCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache) Metrics() *Metrics { return &c.metrics }

func (c *LRUCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*lruEntry).blk.Release()
	}
	c.order.Init()
	c.entries = make(map[Key]*list.Element)
	c.size = 0
}
