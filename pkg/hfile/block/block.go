package block

import (
	"fmt"
	"sync/atomic"

	"github.com/hfiledb/hfile/pkg/bufpool"
)

// Block is a decoded, immutable block plus the reference count governing its
// backing memory. A new block starts with one reference owned by its creator.
// A cache holds one reference while the block is resident; every caller that
// receives the block holds its own and must Release exactly once. The backing
// buffer returns to its pool only when the count reaches zero.
type Block struct {
	blockType        Type
	onDiskSize       uint32 // including header
	uncompressedSize uint32
	prevOffset       int64
	offset           int64 // file offset, set by the reader

	buf  *bufpool.Buffer
	data []byte // uncompressed payload, backed by buf

	refs atomic.Int32
}

// NewBlock wraps an already-decoded payload in a Block. Used by the codec
// and by cache tiers that re-materialize a block into different memory.
func NewBlock(t Type, buf *bufpool.Buffer, onDiskSize, uncompressedSize uint32, prevOffset int64) *Block {
	b := &Block{
		blockType:        t,
		onDiskSize:       onDiskSize,
		uncompressedSize: uncompressedSize,
		prevOffset:       prevOffset,
		offset:           -1,
		buf:              buf,
		data:             buf.Bytes(),
	}
	b.refs.Store(1)
	return b
}

// Type returns the block's type tag.
func (b *Block) Type() Type { return b.blockType }

// Payload returns the uncompressed block payload. Callers must not mutate it
// nor use it after their reference is released.
func (b *Block) Payload() []byte { return b.data }

// OnDiskSizeWithHeader returns the block's full on-disk footprint, which is
// also how far to advance to reach the next block.
func (b *Block) OnDiskSizeWithHeader() uint32 { return b.onDiskSize }

// UncompressedSize returns the payload size before compression.
func (b *Block) UncompressedSize() uint32 { return b.uncompressedSize }

// PrevBlockOffset returns the file offset of the preceding block, or
// NoPrevBlock for the first one.
func (b *Block) PrevBlockOffset() int64 { return b.prevOffset }

// Offset returns the block's own file offset, or -1 if unknown.
func (b *Block) Offset() int64 { return b.offset }

// SetOffset records where the block was read from. Called once by the reader
// before the block is shared.
func (b *Block) SetOffset(off int64) { b.offset = off }

// SharedMem reports whether the payload lives in pooled (shared) memory
// rather than an independent heap allocation.
func (b *Block) SharedMem() bool { return b.buf != nil && b.buf.Pooled() }

// HeapSize approximates the block's memory footprint for cache accounting.
func (b *Block) HeapSize() int64 {
	return int64(HeaderSize + len(b.data))
}

// Retain adds a reference. Each Retain obliges one Release.
func (b *Block) Retain() *Block {
	if b.refs.Add(1) <= 1 {
		panic("block: retain after the last reference was released")
	}
	return b
}

// TryRetain attempts to add a reference, failing when the block has already
// dropped to zero. Cache tiers that evict asynchronously use this instead of
// Retain so a concurrent eviction turns into a cache miss rather than a
// use-after-release.
func (b *Block) TryRetain() bool {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return false
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// RefCount returns the current reference count. Intended for tests and
// leak diagnostics.
func (b *Block) RefCount() int32 { return b.refs.Load() }

// Release drops one reference. When the last reference goes, the backing
// buffer is returned to its allocator.
func (b *Block) Release() {
	n := b.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("block: release of %s block with no outstanding references", b.blockType))
	}
	if n == 0 {
		b.data = nil
		if b.buf != nil {
			b.buf.Release()
			b.buf = nil
		}
	}
}
