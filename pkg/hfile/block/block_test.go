package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hfiledb/hfile/pkg/bufpool"
	"github.com/hfiledb/hfile/pkg/cell"
)

func TestCompressionOrdinance(t *testing.T) {
	// Ordinals are persisted in trailers and must never move.
	if CompressionLzo != 0 {
		t.Errorf("lzo ordinal changed: %d", CompressionLzo)
	}
	if CompressionGz != 1 {
		t.Errorf("gz ordinal changed: %d", CompressionGz)
	}
	if CompressionNone != 2 {
		t.Errorf("none ordinal changed: %d", CompressionNone)
	}
	if CompressionSnappy != 3 {
		t.Errorf("snappy ordinal changed: %d", CompressionSnappy)
	}
	if CompressionLz4 != 4 {
		t.Errorf("lz4 ordinal changed: %d", CompressionLz4)
	}
	if CompressionBzip2 != 5 {
		t.Errorf("bzip2 ordinal changed: %d", CompressionBzip2)
	}
	if CompressionZstd != 6 {
		t.Errorf("zstd ordinal changed: %d", CompressionZstd)
	}
	if CompressionS2 != 7 {
		t.Errorf("s2 ordinal changed: %d", CompressionS2)
	}
}

func TestUnsupportedCompression(t *testing.T) {
	if _, err := NewCodec(CompressionLzo, ChecksumNone); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression for lzo, got %v", err)
	}
	if _, err := ParseCompression("lz4"); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression for lz4, got %v", err)
	}
	if _, err := ParseCompression("bogus"); err == nil {
		t.Errorf("expected error for unknown algorithm")
	}
}

func testRoundTrip(t *testing.T, algo Compression) {
	t.Helper()
	codec, err := NewCodec(algo, ChecksumXXHash64)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	payload := bytes.Repeat([]byte("hfile block payload "), 200)
	raw, err := codec.Encode(TypeData, payload, 1234)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	blk, err := codec.Decode(raw, bufpool.Heap, true)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	defer blk.Release()

	if blk.Type() != TypeData {
		t.Errorf("expected DATA, got %s", blk.Type())
	}
	if !bytes.Equal(blk.Payload(), payload) {
		t.Errorf("payload mismatch after %s round trip", algo)
	}
	if blk.PrevBlockOffset() != 1234 {
		t.Errorf("expected prev offset 1234, got %d", blk.PrevBlockOffset())
	}
	if blk.OnDiskSizeWithHeader() != uint32(len(raw)) {
		t.Errorf("on-disk size %d does not match raw length %d",
			blk.OnDiskSizeWithHeader(), len(raw))
	}
}

func TestRoundTripAllCodecs(t *testing.T) {
	for _, algo := range []Compression{CompressionNone, CompressionGz, CompressionSnappy, CompressionZstd, CompressionS2} {
		t.Run(algo.String(), func(t *testing.T) { testRoundTrip(t, algo) })
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	codec, err := NewCodec(CompressionNone, ChecksumXXHash64)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	raw, err := codec.Encode(TypeData, []byte("some payload bytes"), NoPrevBlock)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Flip a payload byte.
	raw[len(raw)-1] ^= 0xFF
	if _, err := codec.Decode(raw, bufpool.Heap, true); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected ErrCorruption, got %v", err)
	}

	// Skipping validation lets the damaged payload through the checksum but
	// it is still framed consistently, so decode succeeds.
	blk, err := codec.Decode(raw, bufpool.Heap, false)
	if err != nil {
		t.Fatalf("decode without validation failed: %v", err)
	}
	blk.Release()
}

func TestDecodeAbsurdUncompressedSize(t *testing.T) {
	codec, err := NewCodec(CompressionNone, ChecksumXXHash64)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	raw, err := codec.Encode(TypeData, []byte("some payload bytes"), NoPrevBlock)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// The checksum only covers the payload, so a corrupt size field must be
	// caught by the header bound before anything is allocated for it.
	binary.LittleEndian.PutUint32(raw[5:9], 0xFFFFFFFF)
	if _, err := ParseHeader(raw); !errors.Is(err, ErrCorruption) {
		t.Errorf("ParseHeader: expected ErrCorruption, got %v", err)
	}
	if _, err := codec.Decode(raw, bufpool.Heap, true); !errors.Is(err, ErrCorruption) {
		t.Errorf("Decode: expected ErrCorruption, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	codec, err := NewCodec(CompressionNone, ChecksumXXHash64)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	raw, err := codec.Encode(TypeData, []byte("0123456789abcdef0123456789abcdef"), NoPrevBlock)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := codec.Decode(raw[:len(raw)/2], bufpool.Heap, true); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected ErrCorruption for truncated block, got %v", err)
	}
	if _, err := codec.Decode(raw[:HeaderSize-3], bufpool.Heap, true); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected ErrCorruption for short header, got %v", err)
	}
}

func TestDecodeIntoPooledMemory(t *testing.T) {
	codec, err := NewCodec(CompressionGz, ChecksumXXHash64)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	alloc := bufpool.New(bufpool.Options{
		BufferSize:     4096,
		MaxBufferCount: 2,
		MinAllocSize:   1,
		Reservoir:      true,
	})

	payload := bytes.Repeat([]byte("x"), 2048)
	raw, err := codec.Encode(TypeData, payload, NoPrevBlock)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	blk, err := codec.Decode(raw, alloc, true)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !blk.SharedMem() {
		t.Errorf("expected pooled-backed block")
	}
	if alloc.FreeCount() != 1 {
		t.Errorf("expected 1 free buffer while block is live, got %d", alloc.FreeCount())
	}
	blk.Release()
	if alloc.FreeCount() != 2 {
		t.Errorf("expected buffer returned on release, got %d free", alloc.FreeCount())
	}
	alloc.Clean()
}

func TestBlockRefCounting(t *testing.T) {
	codec, err := NewCodec(CompressionNone, ChecksumNone)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	alloc := bufpool.New(bufpool.Options{BufferSize: 1024, MaxBufferCount: 1, MinAllocSize: 1, Reservoir: true})

	raw, err := codec.Encode(TypeData, bytes.Repeat([]byte("y"), 512), NoPrevBlock)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	blk, err := codec.Decode(raw, alloc, false)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	blk.Retain() // simulated cache reference
	if blk.RefCount() != 2 {
		t.Errorf("expected refcount 2, got %d", blk.RefCount())
	}
	blk.Release()
	if alloc.FreeCount() != 0 {
		t.Errorf("buffer must stay out of the pool while a reference remains")
	}
	blk.Release()
	if alloc.FreeCount() != 1 {
		t.Errorf("buffer must return to the pool on the last release")
	}
	alloc.Clean()
}

func TestCellEntryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cells := []*cell.Cell{
		cell.New([]byte("row1"), []byte("fam"), []byte("qual"), 100, []byte("value1")),
		cell.New([]byte("row2"), []byte("fam"), []byte("qual"), 99, []byte("value2")),
		{Row: []byte("row3"), Family: []byte("f"), Timestamp: 98, Type: cell.TypeDelete},
	}
	for _, c := range cells {
		if err := EncodeCell(&buf, c, false); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}

	data := buf.Bytes()
	for i, want := range cells {
		got, n, err := DecodeCell(data, false)
		if err != nil {
			t.Fatalf("decode of cell %d failed: %v", i, err)
		}
		if !bytes.Equal(got.Row, want.Row) || !bytes.Equal(got.Value, want.Value) ||
			got.Timestamp != want.Timestamp || got.Type != want.Type {
			t.Errorf("cell %d mismatch: got %s", i, got.KeyString())
		}
		if n != EncodedCellSize(want, false) {
			t.Errorf("cell %d consumed %d bytes, expected %d", i, n, EncodedCellSize(want, false))
		}
		data = data[n:]
	}
	if len(data) != 0 {
		t.Errorf("%d bytes left over", len(data))
	}
}

func TestCellEntryWithTags(t *testing.T) {
	c := cell.New([]byte("row"), []byte("f"), []byte("q"), 7, []byte("v"))
	c.Tags = []byte{0x01, 'm', 'y', 't', 'a', 'g'}

	var buf bytes.Buffer
	if err := EncodeCell(&buf, c, true); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, _, err := DecodeCell(buf.Bytes(), true)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(got.Tags, c.Tags) {
		t.Errorf("tags did not survive the round trip")
	}
}

func TestIndexKeyRoundTrip(t *testing.T) {
	c := cell.FirstOnRow([]byte("separator-row"), []byte("f"), nil)
	key := EncodeKey(c)
	got, err := DecodeKey(key)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(got.Row, c.Row) || got.Timestamp != c.Timestamp || got.Type != c.Type {
		t.Errorf("key mismatch: got %s", got.KeyString())
	}
	if len(got.Value) != 0 {
		t.Errorf("index keys must carry no value")
	}
}

func TestDecodeCellTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeCell(&buf, cell.New([]byte("row"), []byte("f"), []byte("q"), 1, []byte("value")), false); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	data := buf.Bytes()
	if _, _, err := DecodeCell(data[:len(data)-2], false); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected ErrCorruption, got %v", err)
	}
	if _, _, err := DecodeCell(data[:4], false); !errors.Is(err, ErrCorruption) {
		t.Errorf("expected ErrCorruption for short fixed section, got %v", err)
	}
}
