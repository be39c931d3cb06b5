// Package hfile implements a sorted, block-structured, immutable file format
// for versioned cells, together with the reader, writer and seekable scanner
// over it. Files are written once, append-only and in key order; reads go
// through a pluggable block cache backed by a bounded buffer pool.
package hfile

import (
	"errors"

	"github.com/hfiledb/hfile/pkg/bufpool"
	"github.com/hfiledb/hfile/pkg/cache"
	"github.com/hfiledb/hfile/pkg/cell"
	"github.com/hfiledb/hfile/pkg/common/log"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

var (
	// ErrCorruptHFile marks a file whose structure cannot be trusted:
	// zero-length, truncated, bad trailer, or a block that fails validation.
	ErrCorruptHFile = errors.New("corrupt hfile")

	// ErrBlockTypeMismatch is returned when a block read lands on a block of
	// a different type than the caller expected.
	ErrBlockTypeMismatch = errors.New("block type mismatch")

	// ErrWriterClosed is returned by operations on a closed writer.
	ErrWriterClosed = errors.New("writer already closed")
)

const (
	// DefaultBlockSize is the target uncompressed payload size of a data
	// block. A block is closed at the first append that reaches it.
	DefaultBlockSize = 64 * 1024

	// DefaultIndexChunkSize is the maximum number of entries in one block
	// index block before the index grows another level.
	DefaultIndexChunkSize = 128

	// DefaultBloomFalsePositiveRate sizes the optional row bloom filter.
	DefaultBloomFalsePositiveRate = 0.01
)

// FileContext carries the per-file settings shared by the writer and
// recorded for the reader. The zero value of a field selects its default.
type FileContext struct {
	// TableName and FamilyName identify the data for error messages and
	// file metadata. Neither affects ordering.
	TableName  string
	FamilyName string

	// BlockSize is the uncompressed payload threshold that closes a data
	// block.
	BlockSize int

	// IndexChunkSize caps entries per index block.
	IndexChunkSize int

	// Compression selects the block compression algorithm. The zero value
	// writes uncompressed blocks.
	Compression block.Compression

	// ChecksumType selects the per-block checksum.
	ChecksumType block.ChecksumType

	// IncludeTags writes cell tags into data blocks.
	IncludeTags bool

	// MetaComparator orders cells with the meta comparator, which never
	// shortens index keys. Used for catalog-style files.
	MetaComparator bool

	// Bloom enables the row bloom filter meta structure.
	Bloom bool

	// Logger receives writer lifecycle events. Defaults to the process
	// default logger.
	Logger log.Logger
}

// withDefaults fills unset fields.
func (fc FileContext) withDefaults() FileContext {
	if fc.BlockSize <= 0 {
		fc.BlockSize = DefaultBlockSize
	}
	// Compression ordinal 0 is the reserved lzo slot, which cannot be
	// written anyway, so as a zero value it means unset.
	if fc.Compression == block.CompressionLzo {
		fc.Compression = block.CompressionNone
	}
	if fc.IndexChunkSize <= 0 {
		fc.IndexChunkSize = DefaultIndexChunkSize
	}
	if fc.Logger == nil {
		fc.Logger = log.GetDefaultLogger()
	}
	return fc
}

// comparator returns the cell comparator the context selects.
func (fc FileContext) comparator() cell.Comparator {
	if fc.MetaComparator {
		return cell.MetaComparator{}
	}
	return cell.KeyComparator{}
}

// CacheConfig wires a reader to its block cache and buffer pool. A nil
// CacheConfig (or nil Cache) disables caching; a nil Allocator reads into
// plain heap memory.
type CacheConfig struct {
	// Cache receives blocks admitted on read.
	Cache cache.BlockCache

	// Allocator provides pooled read buffers for blocks that stay out of
	// the on-heap cache.
	Allocator *bufpool.Allocator

	// CacheDataOnRead admits DATA blocks read by scans. Index-family and
	// meta blocks are admitted regardless.
	CacheDataOnRead bool

	// EvictOnClose evicts all of the file's blocks when the reader closes.
	EvictOnClose bool

	// Logger receives reader lifecycle events. Defaults to the process
	// default logger.
	Logger log.Logger
}

func (cc *CacheConfig) withDefaults() *CacheConfig {
	out := &CacheConfig{}
	if cc != nil {
		*out = *cc
	}
	if out.Allocator == nil {
		out.Allocator = bufpool.Heap
	}
	if out.Logger == nil {
		out.Logger = log.GetDefaultLogger()
	}
	return out
}

// shouldUseHeap decides, per block type, whether a read miss decodes into
// heap memory (so the on-heap cache can hold it without pinning a pool slot)
// or into pooled memory.
func (cc *CacheConfig) shouldUseHeap(t block.Type, cacheBlock bool) bool {
	if cc.Cache == nil {
		return false
	}
	if _, combined := cc.Cache.(*cache.CombinedCache); combined {
		// DATA blocks go to the pooled second level, which copies; only
		// index-family blocks headed for L1 need heap memory.
		return t.IsIndex() && (cacheBlock || cc.CacheDataOnRead)
	}
	switch {
	case t.IsData():
		return cacheBlock && cc.CacheDataOnRead
	case t.IsIndex():
		return cacheBlock || cc.CacheDataOnRead
	default:
		return cacheBlock
	}
}

// shouldCacheOnRead is the cache admission rule for a block read with
// cacheBlock requested.
func (cc *CacheConfig) shouldCacheOnRead(t block.Type, cacheBlock bool) bool {
	if cc.Cache == nil {
		return false
	}
	return cacheBlock && (cc.CacheDataOnRead || !t.IsData())
}
