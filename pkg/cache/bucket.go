package cache

import (
	"container/list"
	"sync"

	"github.com/hfiledb/hfile/pkg/bufpool"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// BucketCache is the pooled-memory tier. It accepts DATA blocks only and
// copies each payload into a buffer from its allocator, so resident blocks
// occupy shared memory instead of heap. When the pool has no free slot the
// block is simply not cached; the pool never grows for the cache's sake.
type BucketCache struct {
	mu      sync.Mutex
	alloc   *bufpool.Allocator
	entries map[Key]*list.Element
	order   *list.List
	size    int64
	metrics Metrics
}

// NewBucketCache creates a bucket tier drawing memory from alloc. Capacity
// is the allocator's slot budget; the cache itself imposes no byte limit.
func NewBucketCache(alloc *bufpool.Allocator) *BucketCache {
	return &BucketCache{
		alloc:   alloc,
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

func (c *BucketCache) Get(key Key, caching, reposition, updateMetrics bool) *block.Block {
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
	}
	return ent.blk.Retain()
}

// Put copies the block into pooled memory and caches the copy. Non-DATA
// blocks and blocks that find no free pool slot are ignored.
func (c *BucketCache) Put(key Key, blk *block.Block) {
	if !blk.Type().IsData() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}
	payload := blk.Payload()
	buf, ok := c.allocateLocked(len(payload))
	if !ok {
		return
	}
	copy(buf.Bytes(), payload)
	clone := block.NewBlock(blk.Type(), buf, blk.OnDiskSizeWithHeader(), blk.UncompressedSize(), blk.PrevBlockOffset())
	clone.SetOffset(blk.Offset())

	ent := &lruEntry{key: key, blk: clone, size: clone.HeapSize()}
	c.entries[key] = c.order.PushFront(ent)
	c.size += ent.size
	c.metrics.inserts.Add(1)
}

// allocateLocked obtains a pooled buffer for size bytes, evicting from the
// cold end to free slots when the pool is exhausted. Returns false when the
// size falls outside the pool's slot range or no slot can be freed; heap
// copies would defeat this tier's purpose, so it declines instead.
func (c *BucketCache) allocateLocked(size int) (*bufpool.Buffer, bool) {
	for {
		buf, err := c.alloc.Allocate(size)
		if err == nil {
			if !buf.Pooled() {
				buf.Release()
				return nil, false
			}
			return buf, true
		}
		el := c.order.Back()
		if el == nil {
			return nil, false
		}
		// The evicted block's slot frees only once outside readers release
		// their references, so this may still fail and drop the insert.
		c.removeLocked(el)
		if c.alloc.FreeCount() == 0 {
			return nil, false
		}
	}
}

func (c *BucketCache) removeLocked(el *list.Element) {
	ent := el.Value.(*lruEntry)
	c.order.Remove(el)
	delete(c.entries, ent.key)
	c.size -= ent.size
	c.metrics.evictions.Add(1)
	ent.blk.Release()
}

func (c *BucketCache) Evict(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

func (c *BucketCache) EvictFile(fileName string) int {
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

func (c *BucketCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *BucketCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *BucketCache) Metrics() *Metrics { return &c.metrics }

func (c *BucketCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*lruEntry).blk.Release()
	}
	c.order.Init()
	c.entries = make(map[Key]*list.Element)
	c.size = 0
}
