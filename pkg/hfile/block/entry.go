package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hfiledb/hfile/pkg/cell"
)

// Cell wire format inside a DATA block payload, little endian:
//
//	rowLen(2) famLen(1) qualLen(2) timestamp(8) type(1) valueLen(4)
//	[tagsLen(2) when the file includes tags]
//	row family qualifier value [tags]
//
// Index separator keys use the same layout without the value (valueLen is
// written as zero and tags are never included).

const cellFixedOverhead = 2 + 1 + 2 + 8 + 1 + 4

// EncodedCellSize returns the exact encoded size of c.
func EncodedCellSize(c *cell.Cell, includeTags bool) int {
	n := cellFixedOverhead + len(c.Row) + len(c.Family) + len(c.Qualifier) + len(c.Value)
	if includeTags {
		n += 2 + len(c.Tags)
	}
	return n
}

// EncodeCell appends c to buf in wire format.
func EncodeCell(buf *bytes.Buffer, c *cell.Cell, includeTags bool) error {
	if len(c.Row) > math.MaxUint16 {
		return fmt.Errorf("row of %d bytes exceeds maximum", len(c.Row))
	}
	if len(c.Family) > math.MaxUint8 {
		return fmt.Errorf("family of %d bytes exceeds maximum", len(c.Family))
	}
	if len(c.Qualifier) > math.MaxUint16 {
		return fmt.Errorf("qualifier of %d bytes exceeds maximum", len(c.Qualifier))
	}
	if includeTags && len(c.Tags) > math.MaxUint16 {
		return fmt.Errorf("tags of %d bytes exceed maximum", len(c.Tags))
	}

	var fixed [cellFixedOverhead + 2]byte
	binary.LittleEndian.PutUint16(fixed[0:2], uint16(len(c.Row)))
	fixed[2] = byte(len(c.Family))
	binary.LittleEndian.PutUint16(fixed[3:5], uint16(len(c.Qualifier)))
	binary.LittleEndian.PutUint64(fixed[5:13], uint64(c.Timestamp))
	fixed[13] = byte(c.Type)
	binary.LittleEndian.PutUint32(fixed[14:18], uint32(len(c.Value)))
	n := cellFixedOverhead
	if includeTags {
		binary.LittleEndian.PutUint16(fixed[18:20], uint16(len(c.Tags)))
		n += 2
	}
	buf.Write(fixed[:n])
	buf.Write(c.Row)
	buf.Write(c.Family)
	buf.Write(c.Qualifier)
	buf.Write(c.Value)
	if includeTags {
		buf.Write(c.Tags)
	}
	return nil
}

// DecodeCell reads one cell starting at data[0] and returns it along with
// the number of bytes consumed. The returned cell aliases data.
func DecodeCell(data []byte, includeTags bool) (*cell.Cell, int, error) {
	fixed := cellFixedOverhead
	if includeTags {
		fixed += 2
	}
	if len(data) < fixed {
		return nil, 0, fmt.Errorf("%w: truncated cell entry (%d bytes)", ErrCorruption, len(data))
	}
	rowLen := int(binary.LittleEndian.Uint16(data[0:2]))
	famLen := int(data[2])
	qualLen := int(binary.LittleEndian.Uint16(data[3:5]))
	ts := int64(binary.LittleEndian.Uint64(data[5:13]))
	typ := cell.Type(data[13])
	valLen := int(binary.LittleEndian.Uint32(data[14:18]))
	tagsLen := 0
	if includeTags {
		tagsLen = int(binary.LittleEndian.Uint16(data[18:20]))
	}

	total := fixed + rowLen + famLen + qualLen + valLen + tagsLen
	if len(data) < total {
		return nil, 0, fmt.Errorf("%w: cell entry needs %d bytes, %d remain", ErrCorruption, total, len(data))
	}
	p := fixed
	c := &cell.Cell{
		Row:       data[p : p+rowLen],
		Family:    data[p+rowLen : p+rowLen+famLen],
		Qualifier: data[p+rowLen+famLen : p+rowLen+famLen+qualLen],
		Timestamp: ts,
		Type:      typ,
	}
	p += rowLen + famLen + qualLen
	c.Value = data[p : p+valLen]
	p += valLen
	if includeTags {
		c.Tags = data[p : p+tagsLen]
	}
	return c, total, nil
}

// EncodeKey serializes just the key fields of c, for index separator keys.
func EncodeKey(c *cell.Cell) []byte {
	var buf bytes.Buffer
	key := &cell.Cell{
		Row:       c.Row,
		Family:    c.Family,
		Qualifier: c.Qualifier,
		Timestamp: c.Timestamp,
		Type:      c.Type,
	}
	// Key fields always fit: they were validated when the cell was written.
	_ = EncodeCell(&buf, key, false)
	return buf.Bytes()
}

// DecodeKey parses a key produced by EncodeKey.
func DecodeKey(data []byte) (*cell.Cell, error) {
	c, n, err := DecodeCell(data, false)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after index key", ErrCorruption, len(data)-n)
	}
	return c, nil
}
