// Package cell defines the composite key type stored in HFiles and the
// total order over it.
package cell

import (
	"bytes"
	"fmt"
	"math"
)

// Type tags a cell with its mutation kind. The byte values are persisted on
// disk and must never be renumbered.
type Type byte

const (
	// TypeMinimum sorts after every other type for the same key fields.
	// It is a sentinel used in synthesized seek keys, never written by users.
	TypeMinimum Type = 0
	// TypePut marks a regular value.
	TypePut Type = 4
	// TypeDelete marks a deletion of a single version.
	TypeDelete Type = 8
	// TypeDeleteColumn marks a deletion of all versions of a column.
	TypeDeleteColumn Type = 12
	// TypeDeleteFamily marks a deletion of a whole family.
	TypeDeleteFamily Type = 14
	// TypeMaximum sorts before every other type for the same key fields.
	// Sentinel for synthesized keys, never written by users.
	TypeMaximum Type = 255
)

// LatestTimestamp is the sentinel for "newest possible version". Because
// timestamps order descending, a cell carrying it sorts first among cells
// sharing row/family/qualifier.
const LatestTimestamp = int64(math.MaxInt64)

// Cell is one immutable entry: a composite key plus a value payload.
type Cell struct {
	Row       []byte
	Family    []byte
	Qualifier []byte
	Timestamp int64
	Type      Type
	Value     []byte
	// Tags carries optional pre-encoded per-cell metadata. Tags never
	// participate in ordering and are only persisted when the file context
	// asks for them.
	Tags []byte
}

// New builds a Put cell.
func New(row, family, qualifier []byte, ts int64, value []byte) *Cell {
	return &Cell{
		Row:       row,
		Family:    family,
		Qualifier: qualifier,
		Timestamp: ts,
		Type:      TypePut,
		Value:     value,
	}
}

// FirstOnRow returns the smallest possible cell for the given key fields:
// latest timestamp, maximum type, empty value.
func FirstOnRow(row, family, qualifier []byte) *Cell {
	return &Cell{
		Row:       row,
		Family:    family,
		Qualifier: qualifier,
		Timestamp: LatestTimestamp,
		Type:      TypeMaximum,
	}
}

// Clone deep-copies the cell so the result shares no memory with the
// original. Used by the writer when callers are about to recycle backing
// buffers.
func (c *Cell) Clone() *Cell {
	return &Cell{
		Row:       append([]byte(nil), c.Row...),
		Family:    append([]byte(nil), c.Family...),
		Qualifier: append([]byte(nil), c.Qualifier...),
		Timestamp: c.Timestamp,
		Type:      c.Type,
		Value:     append([]byte(nil), c.Value...),
		Tags:      append([]byte(nil), c.Tags...),
	}
}

// KeyString renders the key fields for error messages and the dump tool.
func (c *Cell) KeyString() string {
	return fmt.Sprintf("%s/%s:%s/ts=%d/type=%d",
		c.Row, c.Family, c.Qualifier, c.Timestamp, c.Type)
}

// Comparator defines a total order over cells.
type Comparator interface {
	// Compare returns <0, 0 or >0 as a sorts before, equal to, or after b.
	Compare(a, b *Cell) int
	// Shortenable reports whether synthesized separator keys may replace
	// real keys in index entries under this order.
	Shortenable() bool
}

// KeyComparator is the standard order: row asc, family asc, qualifier asc,
// timestamp desc (newer first), type desc.
type KeyComparator struct{}

// MetaComparator is used for catalog files where rows embed delimiters that
// make synthesized separators unsafe. Same field order, no shortening.
type MetaComparator struct{}

func (KeyComparator) Shortenable() bool  { return true }
func (MetaComparator) Shortenable() bool { return false }

func (KeyComparator) Compare(a, b *Cell) int  { return compareCells(a, b) }
func (MetaComparator) Compare(a, b *Cell) int { return compareCells(a, b) }

func compareCells(a, b *Cell) int {
	if c := bytes.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Family, b.Family); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Qualifier, b.Qualifier); c != 0 {
		return c
	}
	// Descending: the newer timestamp sorts first.
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return -1
		}
		return 1
	}
	// Descending on the type tag as well.
	if a.Type != b.Type {
		if a.Type > b.Type {
			return -1
		}
		return 1
	}
	return 0
}
