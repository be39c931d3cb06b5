package cache

import (
	"fmt"

	"github.com/hfiledb/hfile/pkg/bufpool"
)

// Policy names an eviction strategy for the on-heap level.
type Policy string

const (
	PolicyLRU         Policy = "LRU"
	PolicyAdaptiveLRU Policy = "AdaptiveLRU"
	PolicyTinyLFU     Policy = "TinyLFU"
)

// Options selects and sizes a cache composition.
type Options struct {
	// Policy picks the on-heap eviction strategy. Defaults to AdaptiveLRU.
	Policy Policy
	// Capacity bounds the on-heap level in bytes.
	Capacity int64
	// Allocator, when non-nil and pooling, adds a pooled second level for
	// DATA blocks and wraps both levels in a CombinedCache.
	Allocator *bufpool.Allocator
}

// DefaultCapacity bounds the on-heap level when Options.Capacity is zero.
const DefaultCapacity = 256 * 1024 * 1024

// New builds a BlockCache from opts.
func New(opts Options) (BlockCache, error) {
	if opts.Policy == "" {
		opts.Policy = PolicyAdaptiveLRU
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	var l1 BlockCache
	switch opts.Policy {
	case PolicyLRU:
		l1 = NewLRUCache(opts.Capacity)
	case PolicyAdaptiveLRU:
		l1 = NewAdaptiveLRUCache(opts.Capacity)
	case PolicyTinyLFU:
		c, err := NewTinyLFUCache(opts.Capacity)
		if err != nil {
			return nil, fmt.Errorf("creating TinyLFU cache: %w", err)
		}
		l1 = c
	default:
		return nil, fmt.Errorf("unknown cache policy %q", opts.Policy)
	}

	if opts.Allocator != nil && opts.Allocator.Reservoir() {
		return NewCombinedCache(l1, NewBucketCache(opts.Allocator)), nil
	}
	return l1, nil
}
