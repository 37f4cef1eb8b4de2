// Package persist abstracts where shard chunk bodies live. Every database's
// small, frequently-rewritten metadata (series.dat, .dropped,
// .max_series_id, users.dat, buffer.dat) stays on local disk — it is read
// and rewritten too often, and at too small a size, to benefit from an
// object-storage backend. Shard bodies are different: spec.md §3/§4.4
// describes them as accumulate-then-compact blobs, which is exactly the
// shape memcp's PersistenceEngine already abstracts over file/S3/Ceph
// (storage/persistence.go, storage/persistence-files.go,
// storage/persistence-s3.go, storage/persistence-ceph.go). This package
// keeps that same split: a full-body slot for the compacted shard (the
// teacher's ReadColumn/WriteColumn) and an append-only slot for the live,
// still-growing tail a flush appends to (the teacher's OpenLog/ReplayLog).
package persist

import (
	"encoding/binary"
	"io"
)

// Chunk is one appended run of points read back during shard load, in the
// order chunks were originally appended (spec.md §4.3 "append-on-flush").
type Chunk struct {
	Offset int64
	Data   []byte
}

// AppendWriter is the live tail of a shard: every Write call is one flush's
// worth of chunk bytes, and Offset reports where that chunk started so the
// caller can record it in the series index (spec.md §4.4 "write_points
// returning starting offset").
type AppendWriter interface {
	io.Writer
	Offset() (int64, error)
	Sync() error
	Close() error
}

// Engine is the storage backend for one database's shard bodies. Backends:
// FileBackend (default, local disk), S3Backend, CephBackend — selected the
// way the teacher selects a PersistenceFactory, via BackendRegistry.
type Engine interface {
	// ReadShardBody returns the full compacted body of a shard, as written
	// by the most recent optimizer pass (spec.md §4.4 "optimize").
	ReadShardBody(shardID string) (io.ReadCloser, error)

	// WriteShardBody overwrites a shard's full body, used once a
	// compaction pass has produced a new, smaller chunk layout.
	WriteShardBody(shardID string) (io.WriteCloser, error)

	// OpenShardAppend opens the shard's still-growing tail for appending
	// newly flushed chunks (spec.md §4.3 "to_shards").
	OpenShardAppend(shardID string) (AppendWriter, error)

	// ReplayShardChunks streams every appended chunk back in append order;
	// shard.Manager.ReplayChunks decodes them for index reconstruction.
	ReplayShardChunks(shardID string) (<-chan Chunk, error)

	// RemoveShard deletes a shard's body and its appended tail, used when
	// a shard has been fully folded into WriteShardBody and the tail is
	// stale, or when a series drop removes its last reference to a shard.
	RemoveShard(shardID string) error

	// Remove deletes the whole database's shard storage.
	Remove() error
}

// WriteChunk frames data with a u32 length prefix and appends it to w,
// returning the offset the chunk started at so the caller can record it in
// the series index (spec.md §4.4 "write_points returning starting
// offset"). Every backend's AppendWriter uses this same framing so
// ReplayShardChunks can recover chunk boundaries on reload.
func WriteChunk(w AppendWriter, data []byte) (int64, error) {
	offset, err := w.Offset()
	if err != nil {
		return 0, err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	return offset, nil
}

// Factory creates the Engine for one database, mirroring the teacher's
// PersistenceFactory (storage/persistence.go).
type Factory interface {
	CreateDatabase(dbName string) Engine
}

// BackendRegistry lets config select a backend by name ("file", "s3",
// "ceph") the way the teacher's storage package registers backends from
// each persistence-*.go file's init().
var BackendRegistry = map[string]func(dbName string, raw []byte) (Engine, error){}

// ErrorReader propagates a not-found (or other open) error through the
// io.ReadCloser path instead of forcing every caller to special-case a nil
// reader, mirroring the teacher's ErrorReader (storage/persistence.go).
type ErrorReader struct{ Err error }

func (e ErrorReader) Read([]byte) (int, error) { return 0, e.Err }
func (e ErrorReader) Close() error { return nil }
