// Package trailer implements the fixed-size structure at the end of every
// HFile. The trailer is the entry point for opening a file: it locates the
// load-on-open region and records the codecs needed to read everything else.
package trailer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/hfiledb/hfile/pkg/hfile/block"
)

const (
	// Size is the fixed size of the trailer in bytes.
	Size = 72
	// Magic verifies that the file tail is a trailer.
	Magic = uint64(0x48464C4544424C4B) // "HFLEDBLK"
	// CurrentVersion is the current file format version.
	CurrentVersion = uint32(1)
)

// ErrInvalid wraps every trailer decoding failure so callers can distinguish
// "not an HFile" from I/O errors.
var ErrInvalid = errors.New("invalid trailer")

// Trailer records where the load-on-open region and its blocks live, plus
// the file-wide codec choices.
type Trailer struct {
	// Magic number for integrity checking.
	Magic uint64
	// Version of the file format.
	Version uint32
	// EntryCount is the total number of cells in the file.
	EntryCount uint64
	// LoadOnOpenOffset is where the load-on-open region begins. Everything
	// from here to the trailer is read eagerly at open time.
	LoadOnOpenOffset uint64
	// RootIndexOffset locates the root block of the data index.
	RootIndexOffset uint64
	// MetaIndexOffset locates the meta index block, zero when absent.
	MetaIndexOffset uint64
	// FileInfoOffset locates the file info block.
	FileInfoOffset uint64
	// DataIndexLevels is the depth of the data block index (0 for an empty
	// file, 1 for root-only).
	DataIndexLevels uint32
	// Compression is the persisted codec ordinal for all blocks.
	Compression block.Compression
	// ChecksumType is the per-block checksum algorithm.
	ChecksumType block.ChecksumType
	// Checksum covers all preceding trailer bytes.
	Checksum uint64
}

// New creates a trailer for the current format version. Offsets and counts
// are filled in by the writer before encoding.
func New() *Trailer {
	return &Trailer{
		Magic:   Magic,
		Version: CurrentVersion,
	}
}

// Encode serializes the trailer to a fixed Size byte slice. Bytes 58 to 63
// are reserved and zero.
func (t *Trailer) Encode() []byte {
	result := make([]byte, Size)

	binary.LittleEndian.PutUint64(result[0:8], t.Magic)
	binary.LittleEndian.PutUint32(result[8:12], t.Version)
	binary.LittleEndian.PutUint64(result[12:20], t.EntryCount)
	binary.LittleEndian.PutUint64(result[20:28], t.LoadOnOpenOffset)
	binary.LittleEndian.PutUint64(result[28:36], t.RootIndexOffset)
	binary.LittleEndian.PutUint64(result[36:44], t.MetaIndexOffset)
	binary.LittleEndian.PutUint64(result[44:52], t.FileInfoOffset)
	binary.LittleEndian.PutUint32(result[52:56], t.DataIndexLevels)
	result[56] = byte(t.Compression)
	result[57] = byte(t.ChecksumType)

	t.Checksum = xxhash.Sum64(result[:64])
	binary.LittleEndian.PutUint64(result[64:72], t.Checksum)

	return result
}

// WriteTo writes the encoded trailer to w.
func (t *Trailer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.Encode())
	return int64(n), err
}

// Decode parses a trailer from the final Size bytes of a file.
func Decode(data []byte) (*Trailer, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrInvalid, len(data), Size)
	}

	t := &Trailer{
		Magic:            binary.LittleEndian.Uint64(data[0:8]),
		Version:          binary.LittleEndian.Uint32(data[8:12]),
		EntryCount:       binary.LittleEndian.Uint64(data[12:20]),
		LoadOnOpenOffset: binary.LittleEndian.Uint64(data[20:28]),
		RootIndexOffset:  binary.LittleEndian.Uint64(data[28:36]),
		MetaIndexOffset:  binary.LittleEndian.Uint64(data[36:44]),
		FileInfoOffset:   binary.LittleEndian.Uint64(data[44:52]),
		DataIndexLevels:  binary.LittleEndian.Uint32(data[52:56]),
		Compression:      block.Compression(data[56]),
		ChecksumType:     block.ChecksumType(data[57]),
		Checksum:         binary.LittleEndian.Uint64(data[64:72]),
	}

	if t.Magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x, expected %#x", ErrInvalid, t.Magic, Magic)
	}
	if t.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalid, t.Version)
	}
	expected := xxhash.Sum64(data[:64])
	if t.Checksum != expected {
		return nil, fmt.Errorf("%w: checksum mismatch, file has %d, calculated %d",
			ErrInvalid, t.Checksum, expected)
	}

	return t, nil
}
