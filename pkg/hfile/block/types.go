// Package block implements the on-disk unit of an HFile: a typed, framed,
// optionally compressed and checksummed byte range, plus the entry codec for
// the cells stored inside DATA blocks.
package block

import "fmt"

// Type tags a block with its role in the file. The byte values are written
// into block headers and must never be renumbered.
type Type byte

const (
	// TypeData holds sorted cell entries.
	TypeData Type = iota
	// TypeLeafIndex points at data blocks.
	TypeLeafIndex
	// TypeIntermediateIndex points at lower index blocks.
	TypeIntermediateIndex
	// TypeRootIndex is the top of the block index, kept in the load-on-open
	// region.
	TypeRootIndex
	// TypeMeta holds out-of-band named payloads.
	TypeMeta
	// TypeMetaIndex maps meta block names to their locations.
	TypeMetaIndex
	// TypeFileInfo holds the file's key/value metadata map.
	TypeFileInfo
	// TypeBloom holds a serialized row bloom filter.
	TypeBloom
	// TypeTrailer is never framed as a block; the tag exists so readers can
	// report it in type-mismatch errors.
	TypeTrailer
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeLeafIndex:
		return "LEAF_INDEX"
	case TypeIntermediateIndex:
		return "INTERMEDIATE_INDEX"
	case TypeRootIndex:
		return "ROOT_INDEX"
	case TypeMeta:
		return "META"
	case TypeMetaIndex:
		return "META_INDEX"
	case TypeFileInfo:
		return "FILE_INFO"
	case TypeBloom:
		return "BLOOM"
	case TypeTrailer:
		return "TRAILER"
	default:
		return fmt.Sprintf("TYPE(%d)", byte(t))
	}
}

// IsData reports whether the block holds cell entries. Cache admission and
// tier routing treat DATA blocks differently from everything else.
func (t Type) IsData() bool { return t == TypeData }

// IsIndex reports whether the block belongs to the block index family.
// Index blocks always route to the on-heap cache tier.
func (t Type) IsIndex() bool {
	switch t {
	case TypeLeafIndex, TypeIntermediateIndex, TypeRootIndex:
		return true
	}
	return false
}

// ChecksumType selects the per-block checksum algorithm.
type ChecksumType byte

const (
	// ChecksumNone disables block checksums.
	ChecksumNone ChecksumType = iota
	// ChecksumXXHash64 stores an xxhash64 of the on-disk payload.
	ChecksumXXHash64
)

func (c ChecksumType) String() string {
	switch c {
	case ChecksumNone:
		return "none"
	case ChecksumXXHash64:
		return "xxhash64"
	default:
		return fmt.Sprintf("checksum(%d)", byte(c))
	}
}

const (
	// HeaderSize is the fixed size of a block header:
	// type(1) + onDiskSizeWithHeader(4) + uncompressedSize(4) +
	// prevBlockOffset(8) + checksumType(1) + checksum(8).
	HeaderSize = 1 + 4 + 4 + 8 + 1 + 8

	// NoPrevBlock is the prevBlockOffset sentinel for the first block.
	NoPrevBlock = int64(-1)
)
