// Package filter implements the row bloom filter persisted in an HFile's
// load-on-open region. A filter answers "might this row be in the file"
// without touching data blocks; false positives are possible, false
// negatives are not.
package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// Bloom is a fixed-size bloom filter over row keys. Bit positions come from
// double hashing the murmur3 128-bit digest, so membership checks cost two
// hashes regardless of k.
type Bloom struct {
	bits []byte
	m    uint64 // bit count
	k    uint32 // probes per key
}

// New sizes a filter for n keys at the given false positive rate.
func New(n int, fpRate float64) *Bloom {
	if n <= 0 {
		n = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint32(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &Bloom{
		bits: make([]byte, (m+7)/8),
		m:    m,
		k:    k,
	}
}

// Add marks the key present.
func (b *Bloom) Add(key []byte) {
	h1, h2 := murmur3.Sum128(key)
	for i := uint32(0); i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.m
		b.bits[pos/8] |= 1 << (pos % 8)
	}
}

// MayContain reports whether the key might be present.
func (b *Bloom) MayContain(key []byte) bool {
	h1, h2 := murmur3.Sum128(key)
	for i := uint32(0); i < b.k; i++ {
		pos := (h1 + uint64(i)*h2) % b.m
		if b.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter: m(8) k(4) bitset.
func (b *Bloom) Encode() []byte {
	out := make([]byte, 12+len(b.bits))
	binary.LittleEndian.PutUint64(out[0:8], b.m)
	binary.LittleEndian.PutUint32(out[8:12], b.k)
	copy(out[12:], b.bits)
	return out
}

// Decode deserializes a filter produced by Encode.
func Decode(data []byte) (*Bloom, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("bloom filter payload of %d bytes is too short", len(data))
	}
	b := &Bloom{
		m: binary.LittleEndian.Uint64(data[0:8]),
		k: binary.LittleEndian.Uint32(data[8:12]),
	}
	if b.m == 0 || b.k == 0 {
		return nil, fmt.Errorf("bloom filter with m=%d k=%d", b.m, b.k)
	}
	if uint64(len(data)-12) != (b.m+7)/8 {
		return nil, fmt.Errorf("bloom filter bitset is %d bytes, expected %d", len(data)-12, (b.m+7)/8)
	}
	b.bits = make([]byte, len(data)-12)
	copy(b.bits, data[12:])
	return b, nil
}
