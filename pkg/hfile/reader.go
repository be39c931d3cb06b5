package hfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hfiledb/hfile/pkg/bufpool"
	"github.com/hfiledb/hfile/pkg/cache"
	"github.com/hfiledb/hfile/pkg/cell"
	"github.com/hfiledb/hfile/pkg/hfile/block"
	"github.com/hfiledb/hfile/pkg/hfile/filter"
	"github.com/hfiledb/hfile/pkg/hfile/trailer"
)

// Reader opens an HFile for random and sequential access. The trailer and
// the load-on-open region (root index, meta index, file info, bloom filter)
// are read eagerly at open; everything else is read on demand through the
// configured block cache.
type Reader struct {
	path      string
	name      string
	cacheName string
	file      *os.File
	size      int64

	trailer *trailer.Trailer
	codec   *block.Codec
	cmp     cell.Comparator
	cc      *CacheConfig

	rootIndex   []indexEntry
	metaIndex   []metaIndexEntry
	info        fileInfo
	bloom       *filter.Bloom
	includeTags bool

	lastDataBlockOffset int64
}

// ReadOptions controls one block read.
type ReadOptions struct {
	// CacheBlock requests cache admission for this read, subject to the
	// cache configuration's admission rule.
	CacheBlock bool
	// UpdateCacheMetrics counts this read in the cache's hit/miss numbers.
	// Inspection reads (compaction, tooling) leave it false.
	UpdateCacheMetrics bool
	// Metrics, when non-nil, receives bytes-read accounting for this read.
	Metrics *ScanMetrics
}

// Open opens the HFile at path. cc may be nil for uncached access.
func Open(path string, cc *CacheConfig) (*Reader, error) {
	cc = cc.withDefaults()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hfile: %w", err)
	}
	// Cache keys carry the file identity, so two files with the same base
	// name must not share one. The absolute path disambiguates them.
	cacheName := filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		cacheName = abs
	}
	r := &Reader{
		path:                path,
		name:                filepath.Base(path),
		cacheName:           cacheName,
		file:                file,
		cc:                  cc,
		cmp:                 cell.KeyComparator{},
		lastDataBlockOffset: -1,
	}
	if err := r.init(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) init() error {
	st, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.name, err)
	}
	r.size = st.Size()
	if r.size == 0 {
		return fmt.Errorf("%w: %s is zero length", ErrCorruptHFile, r.name)
	}
	if r.size < trailer.Size {
		return fmt.Errorf("%w: %s is %d bytes, smaller than a trailer", ErrCorruptHFile, r.name, r.size)
	}

	raw := make([]byte, trailer.Size)
	if _, err := r.file.ReadAt(raw, r.size-trailer.Size); err != nil {
		return fmt.Errorf("reading trailer of %s: %w", r.name, err)
	}
	tr, err := trailer.Decode(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptHFile, r.name, err)
	}
	r.trailer = tr

	codec, err := block.NewCodec(tr.Compression, tr.ChecksumType)
	if err != nil {
		return fmt.Errorf("%s uses %s: %w", r.name, tr.Compression, err)
	}
	r.codec = codec

	if err := r.loadOnOpen(); err != nil {
		return err
	}

	r.cc.Logger.Info("opened hfile %s: %d entries, %d index levels, compression %s",
		r.name, tr.EntryCount, tr.DataIndexLevels, tr.Compression)
	return nil
}

// loadOnOpen reads the region between LoadOnOpenOffset and the trailer.
// These blocks are parsed into reader-owned structures and released; they
// are not cached.
func (r *Reader) loadOnOpen() error {
	if r.trailer.DataIndexLevels > 0 {
		blk, err := r.readUncached(int64(r.trailer.RootIndexOffset), block.TypeRootIndex)
		if err != nil {
			return err
		}
		entries, err := decodeIndexEntries(blk.Payload())
		if err == nil {
			r.rootIndex = copyIndexEntries(entries)
		}
		blk.Release()
		if err != nil {
			return err
		}
	}

	if r.trailer.MetaIndexOffset > 0 {
		blk, err := r.readUncached(int64(r.trailer.MetaIndexOffset), block.TypeMetaIndex)
		if err != nil {
			return err
		}
		entries, err := decodeMetaIndex(blk.Payload())
		blk.Release()
		if err != nil {
			return err
		}
		r.metaIndex = entries
	}

	blk, err := r.readUncached(int64(r.trailer.FileInfoOffset), block.TypeFileInfo)
	if err != nil {
		return err
	}
	info, err := decodeFileInfo(blk.Payload())
	blk.Release()
	if err != nil {
		return err
	}
	r.info = info

	if string(info[infoComparator]) == "meta" {
		r.cmp = cell.MetaComparator{}
	}
	r.includeTags = string(info[infoTags]) == "1"
	if v, ok := info[infoLastDataBlock]; ok {
		off, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: bad %s value %q", ErrCorruptHFile, infoLastDataBlock, v)
		}
		r.lastDataBlockOffset = off
	}

	if v, ok := info[infoBloomOffset]; ok {
		off, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: bad %s value %q", ErrCorruptHFile, infoBloomOffset, v)
		}
		blk, err := r.readUncached(off, block.TypeBloom)
		if err != nil {
			return err
		}
		bloom, err := filter.Decode(blk.Payload())
		blk.Release()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptHFile, r.name, err)
		}
		r.bloom = bloom
	}
	return nil
}

// copyIndexEntries detaches index entries from the block payload they were
// decoded out of.
func copyIndexEntries(entries []indexEntry) []indexEntry {
	out := make([]indexEntry, len(entries))
	for i, e := range entries {
		key := make([]byte, len(e.key))
		copy(key, e.key)
		out[i] = indexEntry{key: key, offset: e.offset, onDiskSize: e.onDiskSize}
	}
	return out
}

// readRaw fetches the full on-disk bytes of the block at offset. A zero
// sizeHint probes the header first.
func (r *Reader) readRaw(offset int64, sizeHint uint32) ([]byte, error) {
	if offset < 0 || offset >= r.size {
		return nil, fmt.Errorf("%w: block offset %d outside file of %d bytes", ErrCorruptHFile, offset, r.size)
	}
	size := sizeHint
	if size == 0 {
		head := make([]byte, block.HeaderSize)
		if _, err := r.file.ReadAt(head, offset); err != nil {
			return nil, fmt.Errorf("%w: reading block header at %d: %v", ErrCorruptHFile, offset, err)
		}
		h, err := block.ParseHeader(head)
		if err != nil {
			return nil, err
		}
		size = h.OnDiskSize
	}
	if offset+int64(size) > r.size {
		return nil, fmt.Errorf("%w: block at %d of %d bytes runs past end of file", ErrCorruptHFile, offset, size)
	}
	raw := make([]byte, size)
	if _, err := r.file.ReadAt(raw, offset); err != nil {
		return nil, fmt.Errorf("%w: reading block at %d: %v", ErrCorruptHFile, offset, err)
	}
	return raw, nil
}

// readUncached decodes the block at offset into heap memory, bypassing the
// cache. Used for the load-on-open region.
func (r *Reader) readUncached(offset int64, expected block.Type) (*block.Block, error) {
	raw, err := r.readRaw(offset, 0)
	if err != nil {
		return nil, err
	}
	blk, err := r.codec.Decode(raw, bufpool.Heap, true)
	if err != nil {
		return nil, fmt.Errorf("%s at offset %d: %w", r.name, offset, err)
	}
	blk.SetOffset(offset)
	if blk.Type() != expected {
		blk.Release()
		return nil, fmt.Errorf("%w: %s block at offset %d, expected %s", ErrBlockTypeMismatch, blk.Type(), offset, expected)
	}
	return blk, nil
}

// ReadBlock returns the block at offset, consulting the cache first. The
// caller owns one reference on the returned block and must Release it.
// sizeHint, when known from an index entry, saves a header probe.
func (r *Reader) ReadBlock(offset int64, sizeHint uint32, expected block.Type, opts ReadOptions) (*block.Block, error) {
	key := cache.Key{FileName: r.cacheName, Offset: offset}

	if r.cc.Cache != nil {
		if blk := r.cc.Cache.Get(key, opts.CacheBlock, true, opts.UpdateCacheMetrics); blk != nil {
			if blk.Type() != expected {
				blk.Release()
				return nil, fmt.Errorf("%w: cached %s block at offset %d, expected %s",
					ErrBlockTypeMismatch, blk.Type(), offset, expected)
			}
			opts.Metrics.recordCache(int64(blk.OnDiskSizeWithHeader()))
			return blk, nil
		}
	}

	raw, err := r.readRaw(offset, sizeHint)
	if err != nil {
		return nil, err
	}
	h, err := block.ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	alloc := r.cc.Allocator
	if r.cc.shouldUseHeap(h.Type, opts.CacheBlock) {
		alloc = bufpool.Heap
	}
	blk, err := r.codec.Decode(raw, alloc, true)
	if err != nil {
		return nil, fmt.Errorf("%s at offset %d: %w", r.name, offset, err)
	}
	blk.SetOffset(offset)
	opts.Metrics.recordFS(int64(blk.OnDiskSizeWithHeader()))

	if blk.Type() != expected {
		blk.Release()
		return nil, fmt.Errorf("%w: %s block at offset %d, expected %s",
			ErrBlockTypeMismatch, blk.Type(), offset, expected)
	}

	if r.cc.shouldCacheOnRead(blk.Type(), opts.CacheBlock) {
		r.cc.Cache.Put(key, blk)
	}
	return blk, nil
}

// GetMetaBlock returns the meta block appended under name, or nil when the
// file has no such block. The caller releases the returned block.
func (r *Reader) GetMetaBlock(name string, opts ReadOptions) (*block.Block, error) {
	for _, e := range r.metaIndex {
		if e.name == name {
			return r.ReadBlock(e.offset, e.onDiskSize, block.TypeMeta, opts)
		}
	}
	return nil, nil
}

// MetaBlockNames lists the file's meta blocks in append order.
func (r *Reader) MetaBlockNames() []string {
	names := make([]string, len(r.metaIndex))
	for i, e := range r.metaIndex {
		names[i] = e.name
	}
	return names
}

// findDataBlock descends the block index to the data block that may contain
// key. before reports that the key sorts before the file's first entry, in
// which case the first data block is returned.
func (r *Reader) findDataBlock(key *cell.Cell, metrics *ScanMetrics) (entry indexEntry, before bool, err error) {
	if len(r.rootIndex) == 0 {
		return indexEntry{}, false, fmt.Errorf("%s has no data blocks", r.name)
	}
	entries := r.rootIndex
	levels := int(r.trailer.DataIndexLevels)
	before = false

	for step := 0; step < levels; step++ {
		pos, serr := searchIndex(r.cmp, entries, key)
		if serr != nil {
			return indexEntry{}, false, serr
		}
		if pos < 0 {
			pos = 0
			before = true
		}
		entry = entries[pos]
		if step == levels-1 {
			return entry, before, nil
		}

		childType := block.TypeIntermediateIndex
		if step == levels-2 {
			childType = block.TypeLeafIndex
		}
		blk, berr := r.ReadBlock(entry.offset, entry.onDiskSize, childType, ReadOptions{
			CacheBlock:         true,
			UpdateCacheMetrics: true,
			Metrics:            metrics,
		})
		if berr != nil {
			return indexEntry{}, false, berr
		}
		decoded, derr := decodeIndexEntries(blk.Payload())
		if derr == nil {
			entries = copyIndexEntries(decoded)
		}
		blk.Release()
		if derr != nil {
			return indexEntry{}, false, derr
		}
	}
	return entry, before, nil
}

// FirstKey returns the file's first cell key, or nil for an empty file. The
// first index entry's key is exact: first-block keys are never shortened.
func (r *Reader) FirstKey() (*cell.Cell, error) {
	if len(r.rootIndex) == 0 {
		return nil, nil
	}
	return block.DecodeKey(r.rootIndex[0].key)
}

// LastKey returns the file's last cell key, or nil for an empty file.
func (r *Reader) LastKey() (*cell.Cell, error) {
	v, ok := r.info[infoLastKey]
	if !ok {
		return nil, nil
	}
	return block.DecodeKey(v)
}

// MayContainRow consults the row bloom filter. Files without one always
// report true.
func (r *Reader) MayContainRow(row []byte) bool {
	if r.bloom == nil {
		return true
	}
	return r.bloom.MayContain(row)
}

// EntryCount returns the total number of cells in the file.
func (r *Reader) EntryCount() uint64 { return r.trailer.EntryCount }

// Trailer returns the file's parsed trailer.
func (r *Reader) Trailer() *trailer.Trailer { return r.trailer }

// FileInfo returns the value stored under the given file info key.
func (r *Reader) FileInfo(key string) ([]byte, bool) {
	v, ok := r.info[key]
	return v, ok
}

// Name returns the file's base name.
func (r *Reader) Name() string { return r.name }

// Scanner returns a scanner positioned before the first cell.
func (r *Reader) Scanner() *Scanner { return r.ScannerWithMetrics(nil) }

// ScannerWithMetrics returns a scanner whose block reads are counted in m.
func (r *Reader) ScannerWithMetrics(m *ScanMetrics) *Scanner {
	return &Scanner{r: r, metrics: m}
}

// Close releases the reader. With EvictOnClose set, every cached block of
// this file is evicted first.
func (r *Reader) Close() error {
	if r.cc.EvictOnClose && r.cc.Cache != nil {
		n := r.cc.Cache.EvictFile(r.cacheName)
		r.cc.Logger.Debug("evicted %d blocks of %s on close", n, r.name)
	}
	return r.file.Close()
}
