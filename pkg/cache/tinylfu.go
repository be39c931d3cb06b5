package cache

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// tinyEntry carries the original cache key alongside the block so eviction
// callbacks, which only see hashed keys, can maintain the per-file index.
type tinyEntry struct {
	key Key
	blk *block.Block
}

// TinyLFUCache is the frequency-aware tier: admission and eviction are
// delegated to ristretto's TinyLFU policy. Like the LRU tiers it is an
// on-heap cache; it holds one reference per resident block and releases it
// from ristretto's exit callbacks.
type TinyLFUCache struct {
	rc      *ristretto.Cache[string, *tinyEntry]
	metrics Metrics

	mu    sync.Mutex
	index map[string]map[Key]struct{} // file name -> resident keys
}

// NewTinyLFUCache creates a TinyLFU cache bounded to capacity bytes.
func NewTinyLFUCache(capacity int64) (*TinyLFUCache, error) {
	c := &TinyLFUCache{index: make(map[string]map[Key]struct{})}

	// Rough counter sizing: ten counters per expected resident block,
	// assuming 16KB blocks.
	numCounters := capacity / (16 * 1024) * 10
	if numCounters < 1e4 {
		numCounters = 1e4
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, *tinyEntry]{
		NumCounters: numCounters,
		MaxCost:     capacity,
		BufferItems: 64,
		OnEvict:     func(item *ristretto.Item[*tinyEntry]) { c.dropIndex(item.Value) },
		OnReject:    func(item *ristretto.Item[*tinyEntry]) { c.dropIndex(item.Value) },
		OnExit: func(e *tinyEntry) {
			if e != nil {
				c.metrics.evictions.Add(1)
				e.blk.Release()
			}
		},
	})
	if err != nil {
		return nil, err
	}
	c.rc = rc
	return c, nil
}

func (c *TinyLFUCache) dropIndex(e *tinyEntry) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.index[e.key.FileName]; ok {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.index, e.key.FileName)
		}
	}
}

func (c *TinyLFUCache) addIndex(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.index[key.FileName]
	if !ok {
		keys = make(map[Key]struct{})
		c.index[key.FileName] = keys
	}
	keys[key] = struct{}{}
}

func (c *TinyLFUCache) Get(key Key, caching, reposition, updateMetrics bool) *block.Block {
	e, ok := c.rc.Get(key.String())
	// A hit races with asynchronous eviction; a failed retain is a miss.
	hit := ok && e.blk.TryRetain()
	c.metrics.recordGet(hit, updateMetrics)
	if !hit {
		return nil
	}
	return e.blk
}

func (c *TinyLFUCache) Put(key Key, blk *block.Block) {
	k := key.String()
	if _, ok := c.rc.Get(k); ok {
		return
	}
	entry := &tinyEntry{key: key, blk: blk.Retain()}
	if !c.rc.Set(k, entry, blk.HeapSize()) {
		// Dropped on the floor before reaching the policy; no callback runs.
		blk.Release()
		return
	}
	c.addIndex(key)
	c.metrics.inserts.Add(1)
	// Ristretto admits asynchronously; waiting keeps Put visible to the
	// next Get, matching the synchronous tiers.
	c.rc.Wait()
}

func (c *TinyLFUCache) Evict(key Key) bool {
	k := key.String()
	_, ok := c.rc.Get(k)
	if !ok {
		return false
	}
	c.rc.Del(k)
	c.rc.Wait()
	c.dropIndex(&tinyEntry{key: key})
	return true
}

func (c *TinyLFUCache) EvictFile(fileName string) int {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.index[fileName]))
	for key := range c.index[fileName] {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.rc.Del(key.String())
	}
	c.rc.Wait()
	c.mu.Lock()
	delete(c.index, fileName)
	c.mu.Unlock()
	return len(keys)
}

func (c *TinyLFUCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, keys := range c.index {
		n += int64(len(keys))
	}
	// Resident count is cheap to know exactly; byte totals are internal to
	// ristretto, so approximate with the block count. Callers only use
	// Size for reporting.
	return n
}

func (c *TinyLFUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, keys := range c.index {
		n += len(keys)
	}
	return n
}

func (c *TinyLFUCache) Metrics() *Metrics { return &c.metrics }

func (c *TinyLFUCache) Shutdown() {
	// Delete through ristretto so every resident block is released via the
	// exit callback before the policy goroutines stop.
	c.mu.Lock()
	var keys []Key
	for _, fileKeys := range c.index {
		for key := range fileKeys {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.rc.Del(key.String())
	}
	c.rc.Wait()
	c.rc.Close()
}
