// Package siridb ties together one database's storage core: config,
// series catalog, shard manager, buffer manager, users store, pool lookup,
// and the shared engine error flag. Grounded on memcp's storage.Database
// shape (storage/database.go: one struct embedding every subsystem a table
// needs) adapted to the subsystems spec.md names instead of memcp's table
// catalog.
package siridb

import (
	"fmt"

	"github.com/siridb/siridbd/internal/buffer"
	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/log"
	"github.com/siridb/siridbd/internal/persist"
	"github.com/siridb/siridbd/internal/points"
	"github.com/siridb/siridbd/internal/pool"
	"github.com/siridb/siridbd/internal/series"
	"github.com/siridb/siridbd/internal/shard"
	"github.com/siridb/siridbd/internal/users"
)

// DB is one database's fully wired storage core.
type DB struct {
	Name    string
	Config  config.Config
	ErrFlag *engineerr.Flag
	Log     log.Logger

	Buffer *buffer.Manager
	Series *series.Store
	Shards *shard.Manager
	Users  *users.Store
	Lookup *pool.Lookup
}

// Open loads every subsystem for one database directory, in the dependency
// order each one requires: config validation, persistence engine, buffer
// manager, shard manager, series catalog (which needs the buffer manager to
// recover each series' slot), users store, and a fresh (caller-populated)
// pool lookup table.
func Open(name string, cfg config.Config, eng persist.Engine, logger log.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("siridb: invalid config for %q: %w", name, err)
	}

	errf := &engineerr.Flag{}
	dbLog := logger.WithDB(name)

	bufMgr, err := buffer.Open(cfg, errf)
	if err != nil {
		return nil, fmt.Errorf("siridb: open buffer: %w", err)
	}

	shardMgr := shard.NewManager(cfg, eng, errf)

	seriesStore, err := series.Load(cfg, bufMgr, errf)
	if err != nil {
		return nil, fmt.Errorf("siridb: load series catalog: %w", err)
	}

	usersStore, err := users.Load(cfg.DataDir, errf)
	if err != nil {
		return nil, fmt.Errorf("siridb: load users: %w", err)
	}

	return &DB{
		Name:    name,
		Config:  cfg,
		ErrFlag: errf,
		Log:     dbLog,
		Buffer:  bufMgr,
		Series:  seriesStore,
		Shards:  shardMgr,
		Users:   usersStore,
		Lookup:  &pool.Lookup{},
	}, nil
}

// CreateSeries allocates a new series and logs the creation, mirroring
// spec.md §4.6's siridb_series_new plus the ambient logging every mutating
// operation gets (SPEC_FULL.md §10.1).
func (db *DB) CreateSeries(name string, tp points.Type) (*series.Series, error) {
	if db.ErrFlag.IsSet() {
		return nil, fmt.Errorf("siridb: engine error latched (%s), refusing mutation", db.ErrFlag.Get())
	}
	s, err := db.Series.New(name, tp)
	if err != nil {
		return nil, err
	}
	db.Log.SeriesCreated(name, s.ID)
	return s, nil
}

// DropSeries removes a series by name.
func (db *DB) DropSeries(name string) error {
	if db.ErrFlag.IsSet() {
		return fmt.Errorf("siridb: engine error latched (%s), refusing mutation", db.ErrFlag.Get())
	}
	s, ok := db.Series.ByName(name)
	if !ok {
		return fmt.Errorf("siridb: series %q does not exist", name)
	}
	if err := db.Series.Drop(s); err != nil {
		return err
	}
	db.Log.SeriesDropped(name, s.ID)
	return nil
}

// AddPoint appends one point to a series' buffer, flushing to shards once
// the buffer reaches buffer_len (spec.md §4.3/§4.6 "siridb_series_add_point").
func (db *DB) AddPoint(s *series.Series, pt points.Point) error {
	if db.ErrFlag.IsSet() {
		return fmt.Errorf("siridb: engine error latched (%s), refusing mutation", db.ErrFlag.Get())
	}
	if s.Buffer == nil {
		return fmt.Errorf("siridb: series %q has no buffer (string series only append via shard write)", s.Name)
	}
	if err := s.Buffer.WritePoint(pt); err != nil {
		return err
	}
	if s.Buffer.Full(db.Config.BufferLen) {
		return db.flushToShards(s)
	}
	return nil
}

// flushToShards writes the buffer out to shards, the Go shape of
// siridb_buffer_to_shards. Per spec.md §4.4 "Append on buffer flush", the
// (timestamp-sorted) buffer is first partitioned by owning shard
// (ts/duration, series mask) — a buffer can straddle a duration boundary —
// and each partition is further split into chunks of at most
// max_chunk_points, never written as a single oversized chunk.
func (db *DB) flushToShards(s *series.Series) error {
	data := s.Buffer.Points.Data()
	if len(data) == 0 {
		return nil
	}
	maxChunk := int(db.Config.MaxChunkPoints)

	for i := 0; i < len(data); {
		sliceStart := shard.SliceStart(data[i].TS, db.Config.DurationNum)
		j := i + 1
		for j < len(data) && shard.SliceStart(data[j].TS, db.Config.DurationNum) == sliceStart {
			j++
		}
		group := data[i:j]

		id := shard.ComputeID(group[0].TS, db.Config.DurationNum, s.Mask)
		sh, err := db.Shards.Open(id)
		if err != nil {
			return err
		}

		for k := 0; k < len(group); k += maxChunk {
			end := k + maxChunk
			if end > len(group) {
				end = len(group)
			}
			chunk := group[k:end]

			offset, err := sh.WriteChunk(s.ID, s.Type, chunk)
			if err != nil {
				return err
			}
			overlap := s.AddIdx(id, uint32(chunk[0].TS), uint32(chunk[len(chunk)-1].TS), uint32(offset), uint16(len(chunk)))
			if overlap {
				if err := sh.SetFlags(sh.Flags() | shard.HasOverlap); err != nil {
					return err
				}
			}
		}

		i = j
	}
	return s.Buffer.Reset()
}

// Close closes the series store (persisting .max_series_id) and the buffer
// file. Shard append writers opened by the shard manager are not closed.
func (db *DB) Close() error {
	if err := db.Series.Close(); err != nil {
		return err
	}
	return db.Buffer.Close()
}
