package cache

import (
	"container/list"
	"sync"

	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// Share of capacity reserved for blocks that have only been touched once.
// Re-read blocks get the remainder, so a burst of single-use blocks (a large
// scan) cannot flush the working set.
const singleAccessShare = 0.35

// AdaptiveLRUCache is a segmented LRU: new blocks land in a single-access
// segment and are promoted to the multi-access segment on their first hit.
// Eviction drains whichever segment overflows its share the most, so scan
// traffic and working-set traffic age independently.
type AdaptiveLRUCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	entries  map[Key]*list.Element
	single   *list.List
	multi    *list.List
	metrics  Metrics

	singleSize int64
	multiSize  int64
}

// NewAdaptiveLRUCache creates an adaptive LRU cache bounded to capacity
// bytes.
func NewAdaptiveLRUCache(capacity int64) *AdaptiveLRUCache {
	return &AdaptiveLRUCache{
		capacity: capacity,
		entries:  make(map[Key]*list.Element),
		single:   list.New(),
		multi:    list.New(),
	}
}

func (c *AdaptiveLRUCache) Get(key Key, caching, reposition, updateMetrics bool) *block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	c.metrics.recordGet(ok, updateMetrics)
	if !ok {
		return nil
	}
	ent := el.Value.(*lruEntry)
	if reposition {
		if !ent.multi {
			// First re-read: promote out of the single-access segment.
			c.single.Remove(el)
			c.singleSize -= ent.size
			ent.multi = true
			c.entries[key] = c.multi.PushFront(ent)
			c.multiSize += ent.size
		} else {
			c.multi.MoveToFront(el)
		}
	}
	return ent.blk.Retain()
}

func (c *AdaptiveLRUCache) Put(key Key, blk *block.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}
	ent := &lruEntry{key: key, blk: blk.Retain(), size: blk.HeapSize()}
	c.entries[key] = c.single.PushFront(ent)
	c.singleSize += ent.size
	c.size += ent.size
	c.metrics.inserts.Add(1)
	c.evictOverflowLocked()
}

func (c *AdaptiveLRUCache) evictOverflowLocked() {
	singleCap := int64(float64(c.capacity) * singleAccessShare)
	multiCap := c.capacity - singleCap
	for c.size > c.capacity {
		// Drain the segment that is furthest over its share; fall back to
		// whichever is non-empty.
		var victim *list.List
		switch {
		case c.singleSize-singleCap >= c.multiSize-multiCap && c.single.Len() > 0:
			victim = c.single
		case c.multi.Len() > 0:
			victim = c.multi
		case c.single.Len() > 0:
			victim = c.single
		default:
			return
		}
		c.removeLocked(victim.Back())
	}
}

func (c *AdaptiveLRUCache) removeLocked(el *list.Element) {
	ent := el.Value.(*lruEntry)
	if ent.multi {
		c.multi.Remove(el)
		c.multiSize -= ent.size
	} else {
		c.single.Remove(el)
		c.singleSize -= ent.size
	}
	delete(c.entries, ent.key)
	c.size -= ent.size
	c.metrics.evictions.Add(1)
	ent.blk.Release()
}

func (c *AdaptiveLRUCache) Evict(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

func (c *AdaptiveLRUCache) EvictFile(fileName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for _, seg := range []*list.List{c.single, c.multi} {
		for el := seg.Front(); el != nil; {
			next := el.Next()
			if el.Value.(*lruEntry).key.FileName == fileName {
				c.removeLocked(el)
				evicted++
			}
			el = next
		}
	}
	return evicted
}

func (c *AdaptiveLRUCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *AdaptiveLRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *AdaptiveLRUCache) Metrics() *Metrics { return &c.metrics }

func (c *AdaptiveLRUCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seg := range []*list.List{c.single, c.multi} {
		for el := seg.Front(); el != nil; el = el.Next() {
			el.Value.(*lruEntry).blk.Release()
		}
		seg.Init()
	}
	c.entries = make(map[Key]*list.Element)
	c.size = 0
	c.singleSize = 0
	c.multiSize = 0
}
