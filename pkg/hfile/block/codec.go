package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/hfiledb/hfile/pkg/bufpool"
)

// ErrCorruption marks a block whose framing or checksum does not hold up.
var ErrCorruption = errors.New("block corruption detected")

// MaxUncompressedSize bounds the uncompressed size a header may claim.
// Blocks are closed near the configured block size, orders of magnitude
// below this, so a larger claim is a corrupt size field, not a real block.
// The bound keeps a flipped bit from triggering a huge allocation.
const MaxUncompressedSize = 128 << 20

// Codec frames and unframes blocks for one file: fixed header, configured
// compression, optional xxhash checksum over the on-disk payload.
type Codec struct {
	comp         *compressor
	checksumType ChecksumType
}

// NewCodec creates a codec for the given compression and checksum settings.
func NewCodec(algo Compression, checksum ChecksumType) (*Codec, error) {
	comp, err := newCompressor(algo)
	if err != nil {
		return nil, err
	}
	return &Codec{comp: comp, checksumType: checksum}, nil
}

// Compression returns the codec's algorithm.
func (c *Codec) Compression() Compression { return c.comp.algo }

// Encode frames payload as a block of the given type and returns the full
// on-disk bytes (header + possibly-compressed payload).
func (c *Codec) Encode(t Type, payload []byte, prevOffset int64) ([]byte, error) {
	onDisk, err := c.comp.compress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to compress %s block: %w", t, err)
	}

	out := make([]byte, HeaderSize+len(onDisk))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint64(out[9:17], uint64(prevOffset))
	out[17] = byte(c.checksumType)
	var sum uint64
	if c.checksumType == ChecksumXXHash64 {
		sum = xxhash.Sum64(onDisk)
	}
	binary.LittleEndian.PutUint64(out[18:26], sum)
	copy(out[HeaderSize:], onDisk)
	return out, nil
}

// Header is the parsed fixed-size prefix of a block.
type Header struct {
	Type             Type
	OnDiskSize       uint32 // including header
	UncompressedSize uint32
	PrevOffset       int64
	ChecksumType     ChecksumType
	Checksum         uint64
}

// ParseHeader decodes the header prefix of raw without touching the payload.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is too short for a block header", ErrCorruption, len(raw))
	}
	h := Header{
		Type:             Type(raw[0]),
		OnDiskSize:       binary.LittleEndian.Uint32(raw[1:5]),
		UncompressedSize: binary.LittleEndian.Uint32(raw[5:9]),
		PrevOffset:       int64(binary.LittleEndian.Uint64(raw[9:17])),
		ChecksumType:     ChecksumType(raw[17]),
		Checksum:         binary.LittleEndian.Uint64(raw[18:26]),
	}
	if h.OnDiskSize < HeaderSize {
		return Header{}, fmt.Errorf("%w: on-disk size %d smaller than header", ErrCorruption, h.OnDiskSize)
	}
	if h.UncompressedSize > MaxUncompressedSize {
		return Header{}, fmt.Errorf("%w: claimed uncompressed size %d exceeds the %d limit",
			ErrCorruption, h.UncompressedSize, MaxUncompressedSize)
	}
	return h, nil
}

// Decode validates and unpacks a full on-disk block. The payload lands in
// memory obtained from alloc; the read path passes its pooled allocator (or
// bufpool.Heap when the block is destined for the on-heap cache).
// Pool exhaustion degrades to a heap allocation: a read must not fail
// because the cache is holding every slot.
func (c *Codec) Decode(raw []byte, alloc *bufpool.Allocator, validateChecksum bool) (*Block, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if uint32(len(raw)) != h.OnDiskSize {
		return nil, fmt.Errorf("%w: got %d bytes for a block of on-disk size %d",
			ErrCorruption, len(raw), h.OnDiskSize)
	}
	onDisk := raw[HeaderSize:]
	if validateChecksum && h.ChecksumType == ChecksumXXHash64 {
		if sum := xxhash.Sum64(onDisk); sum != h.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch on %s block (stored %x, computed %x)",
				ErrCorruption, h.Type, h.Checksum, sum)
		}
	}

	if alloc == nil {
		alloc = bufpool.Heap
	}
	buf := alloc.AllocateWithFallback(int(h.UncompressedSize))
	if err := c.comp.decompress(buf.Bytes(), onDisk); err != nil {
		buf.Release()
		return nil, fmt.Errorf("%w: %s block at decode: %v", ErrCorruption, h.Type, err)
	}
	return NewBlock(h.Type, buf, h.OnDiskSize, h.UncompressedSize, h.PrevOffset), nil
}
