// Package cache implements the block cache tiers that sit between the HFile
// reader and storage: a strict-LRU on-heap cache, a segmented adaptive LRU,
// a TinyLFU tier backed by ristretto, a pooled-memory bucket tier for DATA
// blocks, and a combined two-level composition.
package cache

import (
	"fmt"
	"sync/atomic"

	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// Key identifies a cached block: the file it came from plus its offset.
// Stable across reader instances over the same physical file.
type Key struct {
	FileName string
	Offset   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%d", k.FileName, k.Offset)
}

// BlockCache is the uniform tier contract. All implementations are safe for
// concurrent use.
//
// Reference counting: a successful Get retains the block on behalf of the
// caller, who must Release it exactly once. Put takes its own reference for
// the cache; the caller's reference is untouched.
type BlockCache interface {
	// Get returns the cached block for key, or nil. caching reports whether
	// the enclosing read would cache the block, which tiers may use for
	// admission bookkeeping. reposition permits recency updates (false for
	// pure inspection). updateMetrics controls hit/miss accounting.
	Get(key Key, caching, reposition, updateMetrics bool) *block.Block
	// Put caches the block under key. Blocks already present are left alone.
	Put(key Key, blk *block.Block)
	// Evict removes key, releasing the cache's reference. Returns whether
	// anything was evicted.
	Evict(key Key) bool
	// EvictFile removes every block belonging to the named file and returns
	// the count. Used by evict-on-close.
	EvictFile(fileName string) int
	// Size returns the current cached byte total.
	Size() int64
	// Len returns the number of resident blocks.
	Len() int
	// Metrics exposes this instance's counters.
	Metrics() *Metrics
	// Shutdown releases every resident block. The cache is unusable after.
	Shutdown()
}

// Metrics holds per-cache-instance counters. Each cache owns its instance so
// tests can assert on isolated numbers; there is no process-global state.
type Metrics struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
}

func (m *Metrics) Hits() uint64      { return m.hits.Load() }
func (m *Metrics) Misses() uint64    { return m.misses.Load() }
func (m *Metrics) Inserts() uint64   { return m.inserts.Load() }
func (m *Metrics) Evictions() uint64 { return m.evictions.Load() }

func (m *Metrics) recordGet(hit, updateMetrics bool) {
	if !updateMetrics {
		return
	}
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}
