package block

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the block compression algorithm. Ordinals are
// persisted in trailers, so the order below is frozen: new algorithms append,
// existing ones never renumber. LZO, LZ4 and BZIP2 are reserved ordinals
// carried over from the format's lineage and are not implemented here.
type Compression uint8

const (
	CompressionLzo Compression = iota
	CompressionGz
	CompressionNone
	CompressionSnappy
	CompressionLz4
	CompressionBzip2
	CompressionZstd
	CompressionS2
)

// ErrUnsupportedCompression is returned for reserved or unknown ordinals.
var ErrUnsupportedCompression = errors.New("unsupported compression algorithm")

func (c Compression) String() string {
	switch c {
	case CompressionLzo:
		return "lzo"
	case CompressionGz:
		return "gz"
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLz4:
		return "lz4"
	case CompressionBzip2:
		return "bzip2"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression resolves a configuration name to an algorithm.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "gz", "gzip":
		return CompressionGz, nil
	case "none", "":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "s2":
		return CompressionS2, nil
	case "lzo", "lz4", "bzip2":
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnsupportedCompression, name)
	default:
		return CompressionNone, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Supported reports whether the algorithm can be encoded and decoded by this
// build.
func (c Compression) Supported() bool {
	switch c {
	case CompressionGz, CompressionNone, CompressionSnappy, CompressionZstd, CompressionS2:
		return true
	}
	return false
}

// compressor owns any long-lived encoder/decoder state for one algorithm.
type compressor struct {
	algo    Compression
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

func newCompressor(algo Compression) (*compressor, error) {
	if !algo.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, algo)
	}
	c := &compressor{algo: algo}
	if algo == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		c.zstdEnc = enc
		c.zstdDec = dec
	}
	return c, nil
}

// compress returns the on-disk form of payload.
func (c *compressor) compress(payload []byte) ([]byte, error) {
	switch c.algo {
	case CompressionNone:
		return payload, nil
	case CompressionGz:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(nil, payload), nil
	case CompressionZstd:
		return c.zstdEnc.EncodeAll(payload, nil), nil
	case CompressionS2:
		return s2.Encode(nil, payload), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c.algo)
	}
}

// decompress expands data into dst, which must be exactly the uncompressed
// size. Writing into the caller's buffer keeps pooled memory pooled.
func (c *compressor) decompress(dst, data []byte) error {
	switch c.algo {
	case CompressionNone:
		if len(data) != len(dst) {
			return fmt.Errorf("uncompressed payload is %d bytes, expected %d", len(data), len(dst))
		}
		copy(dst, data)
		return nil
	case CompressionGz:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("gzip open failed: %w", err)
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, dst); err != nil {
			return fmt.Errorf("gzip read failed: %w", err)
		}
		// The payload must end exactly at the expected size.
		if n, _ := zr.Read(make([]byte, 1)); n != 0 {
			return fmt.Errorf("gzip payload longer than expected %d bytes", len(dst))
		}
		return nil
	case CompressionSnappy:
		out, err := snappy.Decode(dst, data)
		if err != nil {
			return fmt.Errorf("snappy decode failed: %w", err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("snappy payload is %d bytes, expected %d", len(out), len(dst))
		}
		if len(out) > 0 && &out[0] != &dst[0] {
			copy(dst, out)
		}
		return nil
	case CompressionZstd:
		out, err := c.zstdDec.DecodeAll(data, dst[:0])
		if err != nil {
			return fmt.Errorf("zstd decode failed: %w", err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("zstd payload is %d bytes, expected %d", len(out), len(dst))
		}
		if len(out) > 0 && &out[0] != &dst[0] {
			copy(dst, out)
		}
		return nil
	case CompressionS2:
		out, err := s2.Decode(dst, data)
		if err != nil {
			return fmt.Errorf("s2 decode failed: %w", err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("s2 payload is %d bytes, expected %d", len(out), len(dst))
		}
		if len(out) > 0 && &out[0] != &dst[0] {
			copy(dst, out)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, c.algo)
	}
}
