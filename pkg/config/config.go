// Package config holds the file-format and cache settings shared by tools
// and embedding applications. A Config is an immutable value: load it,
// validate it, and pass copies down. Components read their settings once at
// construction, so there is no mutation to synchronize.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hfiledb/hfile/pkg/bufpool"
	"github.com/hfiledb/hfile/pkg/cache"
	"github.com/hfiledb/hfile/pkg/hfile"
	"github.com/hfiledb/hfile/pkg/hfile/block"
)

const CurrentVersion = 1

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration surface. Zero values select defaults at
// the consuming component, not here, so a partially filled file stays valid.
type Config struct {
	Version int `json:"version"`

	// Write path
	BlockSize      int    `json:"block_size"`
	IndexChunkSize int    `json:"index_chunk_size"`
	Compression    string `json:"compression"`
	ChecksumXXHash bool   `json:"checksum_xxhash"`
	BloomFilter    bool   `json:"bloom_filter"`

	// Buffer pool
	PoolBufferSize     int  `json:"pool_buffer_size"`
	PoolMaxBufferCount int  `json:"pool_max_buffer_count"`
	PoolMinAllocSize   int  `json:"pool_min_alloc_size"`
	PoolReservoir      bool `json:"pool_reservoir"`

	// Block cache
	CachePolicy     string `json:"cache_policy"`
	CacheCapacity   int64  `json:"cache_capacity"`
	CacheDataOnRead bool   `json:"cache_data_on_read"`
	EvictOnClose    bool   `json:"evict_on_close"`
}

// NewDefaultConfig returns the recommended defaults.
func NewDefaultConfig() Config {
	return Config{
		Version: CurrentVersion,

		BlockSize:      hfile.DefaultBlockSize,
		IndexChunkSize: hfile.DefaultIndexChunkSize,
		Compression:    "none",
		ChecksumXXHash: true,
		BloomFilter:    false,

		PoolBufferSize:     bufpool.DefaultBufferSize,
		PoolMaxBufferCount: bufpool.DefaultMaxBufferCount,
		PoolMinAllocSize:   bufpool.DefaultMinAllocSize,
		PoolReservoir:      true,

		CachePolicy:     string(cache.PolicyAdaptiveLRU),
		CacheCapacity:   cache.DefaultCapacity,
		CacheDataOnRead: true,
		EvictOnClose:    false,
	}
}

// Validate checks the configuration for values no component can accept.
func (c Config) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}
	if c.BlockSize < 0 {
		return fmt.Errorf("%w: negative block size %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.IndexChunkSize < 0 {
		return fmt.Errorf("%w: negative index chunk size %d", ErrInvalidConfig, c.IndexChunkSize)
	}
	if _, err := block.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PoolBufferSize < 0 || c.PoolMaxBufferCount < 0 || c.PoolMinAllocSize < 0 {
		return fmt.Errorf("%w: negative buffer pool sizing", ErrInvalidConfig)
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("%w: negative cache capacity %d", ErrInvalidConfig, c.CacheCapacity)
	}
	switch cache.Policy(c.CachePolicy) {
	case "", cache.PolicyLRU, cache.PolicyAdaptiveLRU, cache.PolicyTinyLFU:
	default:
		return fmt.Errorf("%w: unknown cache policy %q", ErrInvalidConfig, c.CachePolicy)
	}
	return nil
}

// LoadFromFile reads and validates a JSON config.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SaveToFile writes the config as indented JSON.
func (c Config) SaveToFile(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// BufferPoolOptions maps the config onto a buffer pool.
func (c Config) BufferPoolOptions() bufpool.Options {
	return bufpool.Options{
		BufferSize:     c.PoolBufferSize,
		MaxBufferCount: c.PoolMaxBufferCount,
		MinAllocSize:   c.PoolMinAllocSize,
		Reservoir:      c.PoolReservoir,
	}
}

// CacheOptions maps the config onto a block cache. The allocator is passed
// separately so one pool can back both the cache and the read path.
func (c Config) CacheOptions(alloc *bufpool.Allocator) cache.Options {
	return cache.Options{
		Policy:    cache.Policy(c.CachePolicy),
		Capacity:  c.CacheCapacity,
		Allocator: alloc,
	}
}

// FileContext maps the config onto writer settings for the named table and
// family.
func (c Config) FileContext(table, family string) (hfile.FileContext, error) {
	comp, err := block.ParseCompression(c.Compression)
	if err != nil {
		return hfile.FileContext{}, err
	}
	fc := hfile.FileContext{
		TableName:      table,
		FamilyName:     family,
		BlockSize:      c.BlockSize,
		IndexChunkSize: c.IndexChunkSize,
		Compression:    comp,
		Bloom:          c.BloomFilter,
	}
	if c.ChecksumXXHash {
		fc.ChecksumType = block.ChecksumXXHash64
	}
	return fc, nil
}

// CacheConfig assembles the reader-side cache wiring: pool, cache tier and
// admission settings, all from this config.
func (c Config) CacheConfig() (*hfile.CacheConfig, error) {
	alloc := bufpool.New(c.BufferPoolOptions())
	bc, err := cache.New(c.CacheOptions(alloc))
	if err != nil {
		return nil, err
	}
	return &hfile.CacheConfig{
		Cache:           bc,
		Allocator:       alloc,
		CacheDataOnRead: c.CacheDataOnRead,
		EvictOnClose:    c.EvictOnClose,
	}, nil
}
