package cache

import "github.com/hfiledb/hfile/pkg/hfile/block"

// CombinedCache composes an on-heap first level with a pooled-memory second
// level. Index-family and meta blocks always live in L1; DATA blocks go to
// L2. The split keeps the blocks consulted on every read (index, bloom) in
// fast heap memory while bulk data occupies the bounded pool.
type CombinedCache struct {
	l1      BlockCache
	l2      BlockCache
	metrics Metrics
}

// NewCombinedCache composes l1 (on-heap) and l2 (pooled).
func NewCombinedCache(l1, l2 BlockCache) *CombinedCache {
	return &CombinedCache{l1: l1, l2: l2}
}

func (c *CombinedCache) Get(key Key, caching, reposition, updateMetrics bool) *block.Block {
	// Per-level metrics are recorded by the levels; the combined counters
	// report the caller-visible outcome.
	if blk := c.l1.Get(key, caching, reposition, updateMetrics); blk != nil {
		c.metrics.recordGet(true, updateMetrics)
		return blk
	}
	blk := c.l2.Get(key, caching, reposition, updateMetrics)
	c.metrics.recordGet(blk != nil, updateMetrics)
	return blk
}

func (c *CombinedCache) Put(key Key, blk *block.Block) {
	if blk.Type().IsData() {
		c.l2.Put(key, blk)
	} else {
		c.l1.Put(key, blk)
	}
	c.metrics.inserts.Add(1)
}

func (c *CombinedCache) Evict(key Key) bool {
	e1 := c.l1.Evict(key)
	e2 := c.l2.Evict(key)
	return e1 || e2
}

func (c *CombinedCache) EvictFile(fileName string) int {
	return c.l1.EvictFile(fileName) + c.l2.EvictFile(fileName)
}

func (c *CombinedCache) Size() int64 { return c.l1.Size() + c.l2.Size() }

func (c *CombinedCache) Len() int { return c.l1.Len() + c.l2.Len() }

func (c *CombinedCache) Metrics() *Metrics { return &c.metrics }

// Level1 returns the on-heap level, for inspection.
func (c *CombinedCache) Level1() BlockCache { return c.l1 }

// Level2 returns the pooled level, for inspection.
func (c *CombinedCache) Level2() BlockCache { return c.l2 }

func (c *CombinedCache) Shutdown() {
	c.l1.Shutdown()
	c.l2.Shutdown()
}
