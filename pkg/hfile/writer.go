package hfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hfiledb/hfile/pkg/cell"
	"github.com/hfiledb/hfile/pkg/hfile/block"
	"github.com/hfiledb/hfile/pkg/hfile/filter"
	"github.com/hfiledb/hfile/pkg/hfile/trailer"
)

// Writer produces an HFile. Cells must arrive in non-decreasing key order;
// data blocks are closed at the block size threshold and the block
// index, meta blocks, file info and trailer are written on Close. The writer
// stages output in a temporary file and renames it into place, so a partial
// write never leaves a readable file behind.
type Writer struct {
	fc    FileContext
	cmp   cell.Comparator
	codec *block.Codec

	path    string
	tmpPath string
	file    *os.File
	offset  int64
	closed  bool

	buf              bytes.Buffer // current data block payload
	firstCellInBlock *cell.Cell
	lastCell         *cell.Cell
	lastCellOfPrev   *cell.Cell // last cell of the previous data block

	index               *indexWriter
	metas               []pendingMeta
	prevOffsetByType    map[block.Type]int64
	lastDataBlockOffset int64

	entryCount    uint64
	totalKeyLen   uint64
	totalValueLen uint64

	bloomRows [][]byte // distinct rows, in order, for the bloom filter
}

type pendingMeta struct {
	name    string
	payload []byte
}

// NewWriter creates an HFile writer for path.
func NewWriter(path string, fc FileContext) (*Writer, error) {
	fc = fc.withDefaults()
	codec, err := block.NewCodec(fc.Compression, fc.ChecksumType)
	if err != nil {
		return nil, fmt.Errorf("creating block codec: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temporary file: %w", err)
	}

	return &Writer{
		fc:                  fc,
		cmp:                 fc.comparator(),
		codec:               codec,
		path:                path,
		tmpPath:             tmpPath,
		file:                file,
		index:               newIndexWriter(fc.IndexChunkSize),
		prevOffsetByType:    make(map[block.Type]int64),
		lastDataBlockOffset: -1,
	}, nil
}

// Path returns the final path the file will occupy after Close.
func (w *Writer) Path() string { return w.path }

// EntryCount returns the number of cells appended so far.
func (w *Writer) EntryCount() uint64 { return w.entryCount }

// Append adds the next cell. Keys must be non-decreasing under the file's
// comparator; a key sorting before the previous cell is rejected.
func (w *Writer) Append(c *cell.Cell) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(c.Row) == 0 {
		return fmt.Errorf("cannot append cell with an empty row to table %q, family %q",
			w.fc.TableName, w.fc.FamilyName)
	}
	if w.lastCell != nil && w.cmp.Compare(c, w.lastCell) < 0 {
		return fmt.Errorf(
			"cannot append cell %s to table %q, family %q: key is not lexically larger than previous cell %s",
			c.KeyString(), w.fc.TableName, w.fc.FamilyName, w.lastCell.KeyString())
	}

	if w.buf.Len() == 0 {
		w.firstCellInBlock = c
	}
	if err := block.EncodeCell(&w.buf, c, w.fc.IncludeTags); err != nil {
		return fmt.Errorf("encoding cell %s: %w", c.KeyString(), err)
	}

	if w.fc.Bloom {
		if w.lastCell == nil || !bytes.Equal(w.lastCell.Row, c.Row) {
			row := make([]byte, len(c.Row))
			copy(row, c.Row)
			w.bloomRows = append(w.bloomRows, row)
		}
	}

	w.lastCell = c
	w.entryCount++
	w.totalKeyLen += uint64(len(c.Row) + len(c.Family) + len(c.Qualifier))
	w.totalValueLen += uint64(len(c.Value))

	if w.buf.Len() >= w.fc.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

// AppendMetaBlock stages a named out-of-band payload. Meta blocks are
// written at Close, after the data blocks, and found again by name through
// the meta index.
func (w *Writer) AppendMetaBlock(name string, payload []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if name == "" {
		return fmt.Errorf("meta block name must not be empty")
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	w.metas = append(w.metas, pendingMeta{name: name, payload: p})
	return nil
}

// BeforeShipped detaches the writer from every caller-owned buffer it still
// references. Callers that recycle cell backing arrays (batch pipelines)
// invoke this before reusing them.
func (w *Writer) BeforeShipped() {
	if w.firstCellInBlock != nil {
		w.firstCellInBlock = w.firstCellInBlock.Clone()
	}
	if w.lastCell != nil {
		w.lastCell = w.lastCell.Clone()
	}
	if w.lastCellOfPrev != nil {
		w.lastCellOfPrev = w.lastCellOfPrev.Clone()
	}
}

// writeBlock frames payload and appends it to the file, chaining the
// previous offset of the same block type.
func (w *Writer) writeBlock(t block.Type, payload []byte) (int64, uint32, error) {
	prev, ok := w.prevOffsetByType[t]
	if !ok {
		prev = block.NoPrevBlock
	}
	enc, err := w.codec.Encode(t, payload, prev)
	if err != nil {
		return 0, 0, err
	}
	off := w.offset
	if _, err := w.file.Write(enc); err != nil {
		return 0, 0, fmt.Errorf("writing %s block: %w", t, err)
	}
	w.offset += int64(len(enc))
	w.prevOffsetByType[t] = off
	return off, uint32(len(enc)), nil
}

// flushDataBlock closes the current data block and records its index entry.
// The entry key for every block after the first is the midpoint between the
// previous block's last cell and this block's first cell, so index keys stay
// as short as the comparator allows.
func (w *Writer) flushDataBlock() error {
	if w.buf.Len() == 0 {
		return nil
	}
	var indexKey []byte
	if w.index.count() == 0 {
		indexKey = block.EncodeKey(w.firstCellInBlock)
	} else {
		indexKey = block.EncodeKey(cell.Midpoint(w.cmp, w.lastCellOfPrev, w.firstCellInBlock))
	}

	off, size, err := w.writeBlock(block.TypeData, w.buf.Bytes())
	if err != nil {
		return err
	}
	w.index.add(indexKey, off, size)
	w.lastDataBlockOffset = off
	w.lastCellOfPrev = w.lastCell
	w.buf.Reset()
	w.firstCellInBlock = nil
	return nil
}

// Close flushes the final data block, writes meta blocks, the block index,
// the load-on-open region and the trailer, then renames the file into place.
// A writer with zero appended cells still produces a valid, empty file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	err := w.finish()
	if err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return err
	}
	return nil
}

func (w *Writer) finish() error {
	if err := w.flushDataBlock(); err != nil {
		return err
	}

	// Meta blocks follow the data so scans never have to skip them.
	metaEntries := make([]metaIndexEntry, 0, len(w.metas))
	for _, m := range w.metas {
		off, size, err := w.writeBlock(block.TypeMeta, m.payload)
		if err != nil {
			return err
		}
		metaEntries = append(metaEntries, metaIndexEntry{name: m.name, offset: off, onDiskSize: size})
	}

	rootOffset, _, levels, err := w.index.writeLevels(w.writeBlock)
	if err != nil {
		return err
	}

	// Everything from here down is the load-on-open region.
	loadOnOpen := w.offset
	if levels > 0 {
		// writeLevels put the root last, so the region starts there.
		loadOnOpen = rootOffset
	}

	var metaIndexOffset int64
	if len(metaEntries) > 0 {
		metaIndexOffset, _, err = w.writeBlock(block.TypeMetaIndex, encodeMetaIndex(metaEntries))
		if err != nil {
			return err
		}
	}

	var bloomOffset int64
	var bloomSize uint32
	if w.fc.Bloom && len(w.bloomRows) > 0 {
		bloom := filter.New(len(w.bloomRows), DefaultBloomFalsePositiveRate)
		for _, row := range w.bloomRows {
			bloom.Add(row)
		}
		bloomOffset, bloomSize, err = w.writeBlock(block.TypeBloom, bloom.Encode())
		if err != nil {
			return err
		}
	}

	infoOffset, _, err := w.writeBlock(block.TypeFileInfo, w.buildFileInfo(bloomOffset, bloomSize).encode())
	if err != nil {
		return err
	}

	tr := trailer.New()
	tr.EntryCount = w.entryCount
	tr.LoadOnOpenOffset = uint64(loadOnOpen)
	tr.RootIndexOffset = uint64(rootOffset)
	tr.MetaIndexOffset = uint64(metaIndexOffset)
	tr.FileInfoOffset = uint64(infoOffset)
	tr.DataIndexLevels = levels
	tr.Compression = w.codec.Compression()
	tr.ChecksumType = w.fc.ChecksumType
	if _, err := tr.WriteTo(w.file); err != nil {
		return fmt.Errorf("writing trailer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("renaming %s: %w", w.tmpPath, err)
	}

	w.fc.Logger.Info("wrote hfile %s: %d entries, %d data blocks, %d index levels, compression %s",
		filepath.Base(w.path), w.entryCount, w.index.count(), levels, w.codec.Compression())
	return nil
}

func (w *Writer) buildFileInfo(bloomOffset int64, bloomSize uint32) fileInfo {
	fi := fileInfo{
		infoEntryCount: []byte(strconv.FormatUint(w.entryCount, 10)),
		infoCreateTime: []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)),
		infoTable:      []byte(w.fc.TableName),
		infoFamily:     []byte(w.fc.FamilyName),
	}
	if w.fc.MetaComparator {
		fi[infoComparator] = []byte("meta")
	} else {
		fi[infoComparator] = []byte("key")
	}
	if w.fc.IncludeTags {
		fi[infoTags] = []byte("1")
	} else {
		fi[infoTags] = []byte("0")
	}
	if w.entryCount > 0 {
		fi[infoLastKey] = block.EncodeKey(w.lastCell)
		fi[infoAvgKeyLen] = []byte(strconv.FormatUint(w.totalKeyLen/w.entryCount, 10))
		fi[infoAvgValueLen] = []byte(strconv.FormatUint(w.totalValueLen/w.entryCount, 10))
		fi[infoLastDataBlock] = []byte(strconv.FormatInt(w.lastDataBlockOffset, 10))
	}
	if bloomSize > 0 {
		fi[infoBloomOffset] = []byte(strconv.FormatInt(bloomOffset, 10))
		fi[infoBloomSize] = []byte(strconv.FormatUint(uint64(bloomSize), 10))
	}
	return fi
}
