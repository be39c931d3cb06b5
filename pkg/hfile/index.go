package hfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hfiledb/hfile/pkg/cell"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// indexEntry points at one child block: a data block from a leaf index, or a
// lower index block from the levels above. The key is the encoded separator
// that the child's first entry is >= to.
type indexEntry struct {
	key        []byte // block.EncodeKey form
	offset     int64
	onDiskSize uint32
}

// Index block payload, little endian:
//
//	count(4) then per entry: offset(8) size(4) keyLen(2) key
func encodeIndexEntries(entries []indexEntry) []byte {
	var buf bytes.Buffer
	var fixed [14]byte
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(entries)))
	buf.Write(head[:])
	for _, e := range entries {
		binary.LittleEndian.PutUint64(fixed[0:8], uint64(e.offset))
		binary.LittleEndian.PutUint32(fixed[8:12], e.onDiskSize)
		binary.LittleEndian.PutUint16(fixed[12:14], uint16(len(e.key)))
		buf.Write(fixed[:])
		buf.Write(e.key)
	}
	return buf.Bytes()
}

func decodeIndexEntries(payload []byte) ([]indexEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: index block of %d bytes", ErrCorruptHFile, len(payload))
	}
	count := int(binary.LittleEndian.Uint32(payload[:4]))
	entries := make([]indexEntry, 0, count)
	p := 4
	for i := 0; i < count; i++ {
		if len(payload)-p < 14 {
			return nil, fmt.Errorf("%w: truncated index entry %d", ErrCorruptHFile, i)
		}
		e := indexEntry{
			offset:     int64(binary.LittleEndian.Uint64(payload[p : p+8])),
			onDiskSize: binary.LittleEndian.Uint32(payload[p+8 : p+12]),
		}
		keyLen := int(binary.LittleEndian.Uint16(payload[p+12 : p+14]))
		p += 14
		if len(payload)-p < keyLen {
			return nil, fmt.Errorf("%w: truncated index key %d", ErrCorruptHFile, i)
		}
		e.key = payload[p : p+keyLen]
		p += keyLen
		entries = append(entries, e)
	}
	return entries, nil
}

// indexWriter accumulates one entry per data block and, at close, writes the
// block index bottom-up: leaf blocks over the data, intermediate blocks over
// those, and finally a root small enough to hold in memory.
type indexWriter struct {
	chunkSize int
	entries   []indexEntry
}

func newIndexWriter(chunkSize int) *indexWriter {
	return &indexWriter{chunkSize: chunkSize}
}

func (iw *indexWriter) add(key []byte, offset int64, onDiskSize uint32) {
	iw.entries = append(iw.entries, indexEntry{key: key, offset: offset, onDiskSize: onDiskSize})
}

func (iw *indexWriter) count() int { return len(iw.entries) }

// blockSink writes one framed block and reports where it landed.
type blockSink func(t block.Type, payload []byte) (offset int64, onDiskSize uint32, err error)

// writeLevels writes every index level through sink and returns the root's
// location and the total number of levels. A root whose children are data
// blocks is one level.
func (iw *indexWriter) writeLevels(sink blockSink) (rootOffset int64, rootSize uint32, levels uint32, err error) {
	if len(iw.entries) == 0 {
		return 0, 0, 0, nil
	}
	cur := iw.entries
	levels = 1
	childType := block.TypeLeafIndex
	for len(cur) > iw.chunkSize {
		var next []indexEntry
		for start := 0; start < len(cur); start += iw.chunkSize {
			end := start + iw.chunkSize
			if end > len(cur) {
				end = len(cur)
			}
			chunk := cur[start:end]
			off, size, err := sink(childType, encodeIndexEntries(chunk))
			if err != nil {
				return 0, 0, 0, fmt.Errorf("writing %s block: %w", childType, err)
			}
			next = append(next, indexEntry{key: chunk[0].key, offset: off, onDiskSize: size})
		}
		cur = next
		levels++
		childType = block.TypeIntermediateIndex
	}
	rootOffset, rootSize, err = sink(block.TypeRootIndex, encodeIndexEntries(cur))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("writing root index block: %w", err)
	}
	return rootOffset, rootSize, levels, nil
}

// searchIndex returns the position of the greatest entry whose key is <= the
// target, or -1 when the target sorts before every entry. Entries are in key
// order, so this is a binary search.
func searchIndex(cmp cell.Comparator, entries []indexEntry, target *cell.Cell) (int, error) {
	lo, hi := 0, len(entries)-1
	pos := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		key, err := block.DecodeKey(entries[mid].key)
		if err != nil {
			return 0, fmt.Errorf("%w: decoding index key %d: %v", ErrCorruptHFile, mid, err)
		}
		if cmp.Compare(key, target) <= 0 {
			pos = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return pos, nil
}
