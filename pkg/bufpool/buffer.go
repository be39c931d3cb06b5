package bufpool

import "sync/atomic"

// Buffer is a reclaimable memory handle. Pooled buffers return their slot to
// the allocator on Release; heap buffers are left to the garbage collector.
type Buffer struct {
	data     []byte
	slot     []byte // full-capacity backing slot, nil for heap buffers
	alloc    *Allocator
	released atomic.Bool
}

// Bytes returns the buffer's usable region. The slice must not be used after
// Release.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the usable length.
func (b *Buffer) Len() int { return len(b.data) }

// Pooled reports whether the buffer occupies a pool slot (shared memory) as
// opposed to being an independent heap allocation.
func (b *Buffer) Pooled() bool { return b.slot != nil }

// Release returns a pooled buffer's slot to the free list. Releasing twice
// is a refcounting bug upstream and panics.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if b.released.Swap(true) {
		panic("bufpool: buffer released twice")
	}
	if b.slot != nil {
		b.alloc.putSlot(b.slot)
		b.slot = nil
	}
	b.data = nil
}
