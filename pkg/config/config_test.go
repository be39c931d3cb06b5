package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hfiledb/hfile/pkg/cache"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero version", func(c *Config) { c.Version = 0 }},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }},
		{"unknown compression", func(c *Config) { c.Compression = "brotli" }},
		{"reserved compression", func(c *Config) { c.Compression = "lzo" }},
		{"unknown cache policy", func(c *Config) { c.CachePolicy = "CLOCK" }},
		{"negative cache capacity", func(c *Config) { c.CacheCapacity = -5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewDefaultConfig()
			tc.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := NewDefaultConfig()
	c.Compression = "zstd"
	c.CachePolicy = string(cache.PolicyTinyLFU)
	c.BloomFilter = true

	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("saving config: %v", err)
	}
	got, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if got != c {
		t.Errorf("round trip changed config:\n got %+v\nwant %+v", got, c)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("LoadFromFile = %v, want ErrInvalidConfig", err)
	}
}

func TestFileContextMapping(t *testing.T) {
	c := NewDefaultConfig()
	c.Compression = "gz"
	c.BloomFilter = true

	fc, err := c.FileContext("users", "cf")
	if err != nil {
		t.Fatalf("FileContext: %v", err)
	}
	if fc.Compression != block.CompressionGz {
		t.Errorf("Compression = %v, want GZ", fc.Compression)
	}
	if fc.ChecksumType != block.ChecksumXXHash64 {
		t.Errorf("ChecksumType = %v, want xxhash64", fc.ChecksumType)
	}
	if !fc.Bloom || fc.TableName != "users" || fc.FamilyName != "cf" {
		t.Errorf("FileContext = %+v", fc)
	}
}

func TestCacheConfigAssembly(t *testing.T) {
	c := NewDefaultConfig()
	c.CachePolicy = string(cache.PolicyLRU)

	cc, err := c.CacheConfig()
	if err != nil {
		t.Fatalf("CacheConfig: %v", err)
	}
	defer cc.Cache.Shutdown()

	if _, ok := cc.Cache.(*cache.CombinedCache); !ok {
		t.Errorf("cache with reservoir pool is %T, want *cache.CombinedCache", cc.Cache)
	}
	if !cc.Allocator.Reservoir() {
		t.Error("allocator has pooling disabled")
	}
}
