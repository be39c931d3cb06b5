package hfile

import (
	"fmt"

	"github.com/hfiledb/hfile/pkg/cell"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

// Scanner iterates an HFile's cells in key order. A scanner holds a
// reference on its current block; cells returned by Cell alias that block's
// memory and are valid only until the scanner moves to another block or is
// closed. Scanners are not safe for concurrent use.
type Scanner struct {
	r       *Reader
	metrics *ScanMetrics

	blk     *block.Block
	payload []byte
	pos     int // byte offset just past the current cell
	cur     *cell.Cell
	valid   bool
}

// Valid reports whether the scanner is positioned on a cell.
func (s *Scanner) Valid() bool { return s.valid }

// Cell returns the current cell. Only meaningful while Valid.
func (s *Scanner) Cell() *cell.Cell { return s.cur }

func (s *Scanner) readOptions() ReadOptions {
	return ReadOptions{CacheBlock: true, UpdateCacheMetrics: true, Metrics: s.metrics}
}

func (s *Scanner) loadBlock(offset int64, sizeHint uint32) error {
	blk, err := s.r.ReadBlock(offset, sizeHint, block.TypeData, s.readOptions())
	if err != nil {
		return err
	}
	if s.blk != nil {
		s.blk.Release()
	}
	s.blk = blk
	s.payload = blk.Payload()
	s.pos = 0
	s.cur = nil
	return nil
}

// decodeAt parses one cell starting at byte p of the current payload.
func (s *Scanner) decodeAt(p int) (*cell.Cell, int, error) {
	c, n, err := block.DecodeCell(s.payload[p:], s.r.includeTags)
	if err != nil {
		return nil, 0, fmt.Errorf("%s block at offset %d: %w", s.r.name, s.blk.Offset(), err)
	}
	return c, n, nil
}

func (s *Scanner) positionFirst() error {
	c, n, err := s.decodeAt(0)
	if err != nil {
		return err
	}
	s.cur = c
	s.pos = n
	s.valid = true
	return nil
}

func (s *Scanner) positionLast() error {
	p := 0
	for p < len(s.payload) {
		c, n, err := s.decodeAt(p)
		if err != nil {
			return err
		}
		s.cur = c
		p += n
	}
	s.pos = p
	s.valid = true
	return nil
}

// SeekToFirst positions the scanner on the file's first cell. Returns false
// for an empty file.
func (s *Scanner) SeekToFirst() (bool, error) {
	if len(s.r.rootIndex) == 0 {
		s.invalidate()
		return false, nil
	}
	first, err := s.r.FirstKey()
	if err != nil {
		return false, err
	}
	entry, _, err := s.r.findDataBlock(first, s.metrics)
	if err != nil {
		return false, err
	}
	if err := s.loadBlock(entry.offset, entry.onDiskSize); err != nil {
		return false, err
	}
	if err := s.positionFirst(); err != nil {
		return false, err
	}
	return true, nil
}

// Seek positions the scanner relative to key and reports where it landed:
// 0 on the exact cell, +1 on the greatest cell before key, -1 when key
// sorts before the file's first cell (the scanner lands on that first
// cell). On an empty file Seek returns -1 and the scanner stays invalid.
// Re-seeking the same key is idempotent.
func (s *Scanner) Seek(key *cell.Cell) (int, error) {
	if len(s.r.rootIndex) == 0 {
		s.invalidate()
		return -1, nil
	}
	entry, before, err := s.r.findDataBlock(key, s.metrics)
	if err != nil {
		return 0, err
	}
	if err := s.loadBlock(entry.offset, entry.onDiskSize); err != nil {
		return 0, err
	}
	if before {
		if err := s.positionFirst(); err != nil {
			return 0, err
		}
		return -1, nil
	}

	var prev *cell.Cell
	prevEnd := 0
	for p := 0; p < len(s.payload); {
		c, n, err := s.decodeAt(p)
		if err != nil {
			return 0, err
		}
		switch v := s.r.cmp.Compare(c, key); {
		case v == 0:
			s.cur = c
			s.pos = p + n
			s.valid = true
			return 0, nil
		case v > 0:
			if prev == nil {
				return s.seekLandedBeforeBlock()
			}
			s.cur = prev
			s.pos = prevEnd
			s.valid = true
			return 1, nil
		}
		prev = c
		p += n
		prevEnd = p
	}
	// Every cell in the block sorts before key.
	s.cur = prev
	s.pos = prevEnd
	s.valid = true
	return 1, nil
}

// seekLandedBeforeBlock handles a key that falls in the gap between two
// blocks: the index entry's shortened midpoint key admitted the key, but the
// block's real first cell is larger. The greatest cell before the key is
// then the previous block's last cell.
func (s *Scanner) seekLandedBeforeBlock() (int, error) {
	prevOff := s.blk.PrevBlockOffset()
	if prevOff == block.NoPrevBlock {
		if err := s.positionFirst(); err != nil {
			return 0, err
		}
		return -1, nil
	}
	if err := s.loadBlock(prevOff, 0); err != nil {
		return 0, err
	}
	if err := s.positionLast(); err != nil {
		return 0, err
	}
	return 1, nil
}

// Next advances to the following cell, crossing into the next data block as
// needed. Returns false at the end of the file.
func (s *Scanner) Next() (bool, error) {
	if !s.valid {
		return false, nil
	}
	if s.pos < len(s.payload) {
		c, n, err := s.decodeAt(s.pos)
		if err != nil {
			return false, err
		}
		s.cur = c
		s.pos += n
		return true, nil
	}
	if s.r.lastDataBlockOffset >= 0 && s.blk.Offset() >= s.r.lastDataBlockOffset {
		s.invalidate()
		return false, nil
	}
	next := s.blk.Offset() + int64(s.blk.OnDiskSizeWithHeader())
	if err := s.loadBlock(next, 0); err != nil {
		return false, err
	}
	if err := s.positionFirst(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scanner) invalidate() {
	if s.blk != nil {
		s.blk.Release()
		s.blk = nil
	}
	s.payload = nil
	s.cur = nil
	s.valid = false
}

// Close releases the scanner's block reference. The scanner is unusable
// afterward except for another Seek.
func (s *Scanner) Close() {
	s.invalidate()
}
