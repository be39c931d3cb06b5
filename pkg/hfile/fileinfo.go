package hfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Well-known file info keys. Values are raw bytes; numeric values are
// written as decimal strings so the file stays inspectable.
const (
	infoLastKey       = "hfile.LASTKEY"
	infoEntryCount    = "hfile.ENTRY_COUNT"
	infoAvgKeyLen     = "hfile.AVG_KEY_LEN"
	infoAvgValueLen   = "hfile.AVG_VALUE_LEN"
	infoCreateTime    = "hfile.CREATE_TIME_TS"
	infoComparator    = "hfile.COMPARATOR"
	infoTable         = "hfile.TABLE"
	infoFamily        = "hfile.FAMILY"
	infoTags          = "hfile.TAGS"
	infoLastDataBlock = "hfile.LAST_DATA_BLOCK"
	infoBloomOffset   = "hfile.BLOOM_OFFSET"
	infoBloomSize     = "hfile.BLOOM_SIZE"
)

// fileInfo is the file's key/value metadata map, persisted as its own block
// in the load-on-open region.
type fileInfo map[string][]byte

// File info block payload, little endian, keys sorted:
//
//	count(4) then per entry: keyLen(2) key valLen(4) val
func (fi fileInfo) encode() []byte {
	keys := make([]string, 0, len(fi))
	for k := range fi {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(keys)))
	buf.Write(head[:])
	for _, k := range keys {
		var kl [2]byte
		binary.LittleEndian.PutUint16(kl[:], uint16(len(k)))
		buf.Write(kl[:])
		buf.WriteString(k)
		var vl [4]byte
		binary.LittleEndian.PutUint32(vl[:], uint32(len(fi[k])))
		buf.Write(vl[:])
		buf.Write(fi[k])
	}
	return buf.Bytes()
}

func decodeFileInfo(payload []byte) (fileInfo, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: file info block of %d bytes", ErrCorruptHFile, len(payload))
	}
	count := int(binary.LittleEndian.Uint32(payload[:4]))
	fi := make(fileInfo, count)
	p := 4
	for i := 0; i < count; i++ {
		if len(payload)-p < 2 {
			return nil, fmt.Errorf("%w: truncated file info key %d", ErrCorruptHFile, i)
		}
		keyLen := int(binary.LittleEndian.Uint16(payload[p : p+2]))
		p += 2
		if len(payload)-p < keyLen+4 {
			return nil, fmt.Errorf("%w: truncated file info entry %d", ErrCorruptHFile, i)
		}
		key := string(payload[p : p+keyLen])
		p += keyLen
		valLen := int(binary.LittleEndian.Uint32(payload[p : p+4]))
		p += 4
		if len(payload)-p < valLen {
			return nil, fmt.Errorf("%w: truncated file info value for %q", ErrCorruptHFile, key)
		}
		val := make([]byte, valLen)
		copy(val, payload[p:p+valLen])
		p += valLen
		fi[key] = val
	}
	return fi, nil
}

// Meta index block payload, little endian, names in append order:
//
//	count(4) then per entry: nameLen(2) name offset(8) size(4)
type metaIndexEntry struct {
	name       string
	offset     int64
	onDiskSize uint32
}

func encodeMetaIndex(entries []metaIndexEntry) []byte {
	var buf bytes.Buffer
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(entries)))
	buf.Write(head[:])
	for _, e := range entries {
		var nl [2]byte
		binary.LittleEndian.PutUint16(nl[:], uint16(len(e.name)))
		buf.Write(nl[:])
		buf.WriteString(e.name)
		var fixed [12]byte
		binary.LittleEndian.PutUint64(fixed[0:8], uint64(e.offset))
		binary.LittleEndian.PutUint32(fixed[8:12], e.onDiskSize)
		buf.Write(fixed[:])
	}
	return buf.Bytes()
}

func decodeMetaIndex(payload []byte) ([]metaIndexEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: meta index block of %d bytes", ErrCorruptHFile, len(payload))
	}
	count := int(binary.LittleEndian.Uint32(payload[:4]))
	entries := make([]metaIndexEntry, 0, count)
	p := 4
	for i := 0; i < count; i++ {
		if len(payload)-p < 2 {
			return nil, fmt.Errorf("%w: truncated meta index entry %d", ErrCorruptHFile, i)
		}
		nameLen := int(binary.LittleEndian.Uint16(payload[p : p+2]))
		p += 2
		if len(payload)-p < nameLen+12 {
			return nil, fmt.Errorf("%w: truncated meta index entry %d", ErrCorruptHFile, i)
		}
		e := metaIndexEntry{name: string(payload[p : p+nameLen])}
		p += nameLen
		e.offset = int64(binary.LittleEndian.Uint64(payload[p : p+8]))
		e.onDiskSize = binary.LittleEndian.Uint32(payload[p+8 : p+12])
		p += 12
		entries = append(entries, e)
	}
	return entries, nil
}
