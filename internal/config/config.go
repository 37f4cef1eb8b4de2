// Package config holds the engine-wide tunables that the storage core reads
// on every write path: shard durations/masks, buffer sizing, and chunking.
// Grounded on the teacher's explicit settings struct (storage/settings.go)
// rather than scattered constants; per spec.md §9 DESIGN NOTES, duration_num
// and duration_log (and their masks) are kept as distinct named fields and
// never collapsed into one.
package config

import (
	"fmt"

	units "github.com/docker/go-units"
)

// Config is the per-database set of storage tunables.
type Config struct {
	// DataDir is the root directory holding series.dat, .dropped,
	// .max_series_id, users.dat, buffer.dat and shard files.
	DataDir string

	// DurationNum is the time-slice width shards for integer/float series
	// align to; DurationLog is the equivalent for string series
	// (spec.md §3 "Shard").
	DurationNum uint64
	DurationLog uint64

	// ShardMaskNum/ShardMaskLog bound series.mask for each series type
	// (spec.md §3: "mask = (Σ name bytes / 11) mod shard_mask_{num|log}").
	ShardMaskNum uint16
	ShardMaskLog uint16

	// BufferLen is the number of points a series buffer holds before a
	// flush is triggered (spec.md §3 "Buffer").
	BufferLen uint32

	// BufferSlotSize is a byte-size knob for buffer slots. The buffer
	// manager does not read it: it derives each slot's size from
	// BufferLen (buffer.SlotSize).
	BufferSlotSize uint32

	// MaxChunkPoints bounds the size of a single shard chunk written on
	// flush or during optimizer compaction (spec.md §4.4).
	MaxChunkPoints uint32
}

// Default returns a configuration with the same order-of-magnitude defaults
// SiriDB ships with: hourly numeric shards, daily string shards, a 1024-point
// buffer, and 1024-point chunks.
func Default(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		DurationNum:    3600,
		DurationLog:    86400,
		ShardMaskNum:   64,
		ShardMaskLog:   8,
		BufferLen:      1024,
		BufferSlotSize: 8192,
		MaxChunkPoints: 1024,
	}
}

// ParseSize parses a human-readable size ("4MiB", "512KB") into bytes for
// BufferSlotSize-like knobs, using the same library the teacher repo
// depends on for exactly this (github.com/docker/go-units).
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size %q: %w", s, err)
	}
	return n, nil
}

// Validate checks the invariants the storage engine assumes hold for the
// lifetime of a database (changing these after series already exist would
// silently corrupt shard routing).
func (c Config) Validate() error {
	if c.DurationNum == 0 || c.DurationLog == 0 {
		return fmt.Errorf("config: durations must be non-zero")
	}
	if c.ShardMaskNum == 0 || c.ShardMaskLog == 0 {
		return fmt.Errorf("config: shard masks must be non-zero")
	}
	if c.BufferLen == 0 {
		return fmt.Errorf("config: buffer_len must be non-zero")
	}
	if c.MaxChunkPoints == 0 {
		return fmt.Errorf("config: max_chunk_points must be non-zero")
	}
	return nil
}
