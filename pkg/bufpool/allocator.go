// Package bufpool provides a bounded pool of fixed-size byte buffers with an
// explicit heap fallback. Decoded blocks borrow pool slots and must return
// them deterministically; the pool never relies on the garbage collector to
// reclaim a slot.
package bufpool

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrPoolExhausted is returned when a pool-eligible allocation finds no
	// free slot and the caller did not permit heap fallback.
	ErrPoolExhausted = errors.New("bufpool: no free buffer in pool")
)

const (
	// DefaultBufferSize matches the default target block size so one slot
	// holds one block.
	DefaultBufferSize = 64 * 1024
	// DefaultMaxBufferCount bounds the pool's total memory.
	DefaultMaxBufferCount = 1024
	// DefaultMinAllocSize is the smallest request worth a pool slot.
	// Smaller requests waste most of a slot and go to the heap instead.
	DefaultMinAllocSize = DefaultBufferSize / 6
)

// Options configures an Allocator. The zero value of a field selects its
// default. Options are read once at construction and never consulted again.
type Options struct {
	// BufferSize is the fixed capacity of every pool slot.
	BufferSize int
	// MaxBufferCount is the total number of slots the pool may create.
	MaxBufferCount int
	// MinAllocSize is the smallest request served from the pool.
	MinAllocSize int
	// Reservoir enables pooling. When false every allocation is heap-owned.
	Reservoir bool
}

// Allocator hands out Buffers backed either by pooled fixed-size slots or by
// plain heap slices. Safe for concurrent use.
type Allocator struct {
	bufSize   int
	maxCount  int
	minAlloc  int
	reservoir bool

	free    chan []byte
	created atomic.Int64
}

// Heap is a degenerate allocator with pooling disabled. Every request is a
// heap allocation; Release is a no-op. Useful wherever an Allocator is
// required but shared memory is not wanted.
var Heap = &Allocator{reservoir: false}

// New creates an Allocator from opts.
func New(opts Options) *Allocator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.MaxBufferCount <= 0 {
		opts.MaxBufferCount = DefaultMaxBufferCount
	}
	if opts.MinAllocSize <= 0 {
		opts.MinAllocSize = DefaultMinAllocSize
	}
	a := &Allocator{
		bufSize:   opts.BufferSize,
		maxCount:  opts.MaxBufferCount,
		minAlloc:  opts.MinAllocSize,
		reservoir: opts.Reservoir,
	}
	if a.reservoir {
		a.free = make(chan []byte, a.maxCount)
	}
	return a
}

// BufferSize returns the fixed capacity of a pool slot.
func (a *Allocator) BufferSize() int { return a.bufSize }

// Reservoir reports whether pooling is enabled.
func (a *Allocator) Reservoir() bool { return a.reservoir }

// TotalCount returns the configured slot capacity of the pool.
func (a *Allocator) TotalCount() int {
	if !a.reservoir {
		return 0
	}
	return a.maxCount
}

// FreeCount returns how many slots could be handed out right now: slots
// sitting on the free list plus slots not yet lazily created.
func (a *Allocator) FreeCount() int {
	if !a.reservoir {
		return 0
	}
	return len(a.free) + a.maxCount - int(a.created.Load())
}

// UsedCount returns the number of slots currently held by callers.
func (a *Allocator) UsedCount() int {
	if !a.reservoir {
		return 0
	}
	return a.maxCount - a.FreeCount()
}

// poolEligible reports whether a request of the given size may take a slot.
// Requests larger than one slot are served from the heap: slots cannot be
// stitched into a contiguous region without copying.
func (a *Allocator) poolEligible(size int) bool {
	return a.reservoir && size >= a.minAlloc && size <= a.bufSize
}

// Allocate returns a buffer of exactly size bytes. Pool-eligible requests
// take a slot and fail with ErrPoolExhausted when none is free; ineligible
// requests (pooling disabled, below the minimum, larger than a slot) are
// heap allocations.
func (a *Allocator) Allocate(size int) (*Buffer, error) {
	return a.allocate(size, false)
}

// AllocateWithFallback behaves like Allocate but degrades to a heap
// allocation instead of failing when the pool is exhausted.
func (a *Allocator) AllocateWithFallback(size int) *Buffer {
	buf, _ := a.allocate(size, true)
	return buf
}

// AllocateOne returns one full pool slot. It fails with ErrPoolExhausted
// when the pool is empty, and is invalid on a heap-only allocator.
func (a *Allocator) AllocateOne() (*Buffer, error) {
	if !a.reservoir {
		return nil, fmt.Errorf("bufpool: AllocateOne on heap-only allocator")
	}
	slot, ok := a.takeSlot()
	if !ok {
		return nil, ErrPoolExhausted
	}
	return &Buffer{data: slot[:a.bufSize], slot: slot, alloc: a}, nil
}

func (a *Allocator) allocate(size int, fallback bool) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("bufpool: negative allocation size %d", size)
	}
	if !a.poolEligible(size) {
		return &Buffer{data: make([]byte, size)}, nil
	}
	slot, ok := a.takeSlot()
	if !ok {
		if !fallback {
			return nil, ErrPoolExhausted
		}
		return &Buffer{data: make([]byte, size)}, nil
	}
	return &Buffer{data: slot[:size], slot: slot, alloc: a}, nil
}

func (a *Allocator) takeSlot() ([]byte, bool) {
	select {
	case slot := <-a.free:
		return slot, true
	default:
	}
	// Lazily create slots up to the cap.
	for {
		n := a.created.Load()
		if n >= int64(a.maxCount) {
			return nil, false
		}
		if a.created.CompareAndSwap(n, n+1) {
			return make([]byte, a.bufSize), true
		}
	}
}

func (a *Allocator) putSlot(slot []byte) {
	select {
	case a.free <- slot:
	default:
		// The free list is sized to the slot cap, so this means a foreign
		// or double-released slot.
		panic("bufpool: free list overflow on release")
	}
}

// Clean verifies every slot is back on the free list and drops them. A
// non-zero outstanding count is a leaked buffer, a programming error, so
// Clean panics rather than returning an error.
func (a *Allocator) Clean() {
	if !a.reservoir {
		return
	}
	if used := a.UsedCount(); used != 0 {
		panic(fmt.Sprintf("bufpool: Clean with %d buffers still outstanding", used))
	}
	for {
		select {
		case <-a.free:
		default:
			a.created.Store(0)
			return
		}
	}
}
