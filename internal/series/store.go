package series

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/siridb/siridbd/internal/buffer"
	"github.com/siridb/siridbd/internal/catalog"
	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/points"
	"github.com/siridb/siridbd/internal/qpack"
)

const (
	seriesFileName      = "series.dat"
	droppedFileName     = ".dropped"
	maxSeriesIDFileName = ".max_series_id"
	replicateFileName   = ".replicate"
	seriesSchemaVersion = 1
)

// Store owns the series catalog for one database: the name/id indexes
// (internal/catalog), the shared buffer manager, and the on-disk files
// described in spec.md §6 (series.dat, .dropped, .max_series_id,
// .replicate). Grounded on original_source/src/siri/db/series.c's
// siridb_series_load/siridb_series_new lifecycle.
type Store struct {
	cfg  config.Config
	buf  *buffer.Manager
	errf *engineerr.Flag

	cat *catalog.Store[*Series]

	mu          sync.Mutex
	maxSeriesID atomic.Uint32
	fpacker     *qpack.FilePacker

	droppedMu sync.Mutex
	droppedF  *os.File

	watcher *fsnotify.Watcher
}

func path(cfg config.Config, name string) string { return filepath.Join(cfg.DataDir, name) }

// Load implements spec.md §4.6 "siridb_series_load": read .dropped, read
// series.dat under a schema gate skipping dropped ids, reconcile
// .max_series_id (asymmetric: only the on-disk value is allowed to raise
// the in-memory high-water mark, never lower it), rewrite series.dat
// compacted, open a fresh truncated .dropped for writing, and reopen
// series.dat in append mode.
func Load(cfg config.Config, bufMgr *buffer.Manager, errf *engineerr.Flag) (*Store, error) {
	st := &Store{cfg: cfg, buf: bufMgr, errf: errf, cat: catalog.New[*Series]()}

	dropped, err := readDroppedIDs(path(cfg, droppedFileName))
	if err != nil {
		errf.Set(engineerr.File)
		return nil, fmt.Errorf("series: read .dropped: %w", err)
	}
	for _, id := range dropped {
		st.cat.MarkDropped(id)
	}

	var maxSeen uint32
	raw, err := os.ReadFile(path(cfg, seriesFileName))
	if err != nil && !os.IsNotExist(err) {
		errf.Set(engineerr.File)
		return nil, fmt.Errorf("series: read series.dat: %w", err)
	}
	if len(raw) > 0 {
		u := qpack.NewUnpacker(raw)
		schema, err := qpack.ReadSchemaHeader(u)
		if err != nil {
			errf.Set(engineerr.File)
			return nil, fmt.Errorf("series: read schema: %w", err)
		}
		if schema != seriesSchemaVersion {
			return nil, qpack.ErrUnknownSchema
		}
		for {
			var v qpack.Value
			tag, err := u.Next(&v)
			if err != nil {
				errf.Set(engineerr.File)
				return nil, fmt.Errorf("series: decode series.dat: %w", err)
			}
			if tag == qpack.TagEnd {
				break
			}
			if tag != qpack.TagArray3 {
				return nil, fmt.Errorf("series: unexpected record tag 0x%02x", byte(tag))
			}
			if _, err := u.Next(&v); err != nil {
				return nil, err
			}
			name := trimNUL(v.Raw)
			if _, err := u.Next(&v); err != nil {
				return nil, err
			}
			id := uint32(v.Int)
			if _, err := u.Next(&v); err != nil {
				return nil, err
			}
			tp := points.Type(v.Int)

			if id > maxSeen {
				maxSeen = id
			}
			if st.cat.IsDropped(id) {
				continue
			}
			s, err := st.instantiate(id, tp, name, false)
			if err != nil {
				return nil, err
			}
			st.cat.Insert(s)
		}
	}
	st.maxSeriesID.Store(maxSeen)

	// .max_series_id only ever raises the high-water mark (spec.md §4.6:
	// "dropped-then-reused ids after a crash-before-optimize would collide
	// with still-live shard data").
	if onDisk, err := readMaxSeriesID(path(cfg, maxSeriesIDFileName)); err == nil {
		if onDisk > st.maxSeriesID.Load() {
			st.maxSeriesID.Store(onDisk)
		}
	}

	if err := st.rewriteSeriesFile(); err != nil {
		return nil, err
	}
	if err := st.openNewDroppedFile(); err != nil {
		return nil, err
	}
	fp, err := qpack.OpenFilePackerAppend(path(cfg, seriesFileName))
	if err != nil {
		errf.Set(engineerr.File)
		return nil, err
	}
	st.fpacker = fp
	return st, nil
}

func (st *Store) instantiate(id uint32, tp points.Type, name string, fresh bool) (*Series, error) {
	s := &Series{ID: id, Type: tp, Name: name, Mask: mask(name, st.maskModulus(tp))}
	s.Incref()
	if tp != points.String {
		var (
			b   *buffer.Buffer
			err error
		)
		if fresh {
			b, err = st.buf.NewSeries(id, tp)
		} else {
			b, err = st.buf.Load(id, tp)
		}
		if err != nil {
			return nil, err
		}
		s.Buffer = b
	}
	return s, nil
}

// maskModulus picks shard_mask_num or shard_mask_log depending on type
// (spec.md §9 DESIGN NOTES: "keep both explicit ... do not collapse them").
func (st *Store) maskModulus(tp points.Type) uint16 {
	if tp == points.String {
		return st.cfg.ShardMaskLog
	}
	return st.cfg.ShardMaskNum
}

// mask computes (Σ name bytes / 11) mod modulus (spec.md §3).
func mask(name string, modulus uint16) uint16 {
	var sum uint64
	for i := 0; i < len(name); i++ {
		sum += uint64(name[i])
	}
	return uint16((sum / 11) % uint64(modulus))
}

// New creates a fresh series: spec.md §4.6 "siridb_series_new".
func (st *Store) New(name string, tp points.Type) (*Series, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.cat.ByName(name); ok {
		return nil, fmt.Errorf("series: %q already exists", name)
	}
	id := st.maxSeriesID.Add(1)

	s, err := st.instantiate(id, tp, name, true)
	if err != nil {
		st.errf.Set(engineerr.Alloc)
		return nil, err
	}

	if err := st.appendRecord(name, id, tp); err != nil {
		st.errf.Set(engineerr.File)
		return nil, err
	}

	st.cat.Insert(s)
	return s, nil
}

func (st *Store) appendRecord(name string, id uint32, tp points.Type) error {
	if err := st.fpacker.AddArray(3); err != nil {
		return err
	}
	if err := st.fpacker.AddStringTerm(name); err != nil {
		return err
	}
	if err := st.fpacker.AddInt32(int32(id)); err != nil {
		return err
	}
	if err := st.fpacker.AddInt8(int8(tp)); err != nil {
		return err
	}
	return st.fpacker.Flush()
}

// Drop removes s from the catalog, decrements its reference, and appends
// its id to .dropped; physical point removal happens lazily during
// optimization (spec.md §3 "Lifecycle"). It also persists .max_series_id:
// dropping the highest live id and then restarting twice would otherwise
// let the next Load compact that id's record out of series.dat before
// .max_series_id ever saw it, regressing the high-water mark (spec.md §4.6).
func (st *Store) Drop(s *Series) error {
	st.mu.Lock()
	st.cat.Remove(s.ID, s.Name)
	st.cat.MarkDropped(s.ID)
	st.mu.Unlock()

	if err := st.appendDroppedID(s.ID); err != nil {
		return err
	}
	if err := st.PersistMaxSeriesID(); err != nil {
		return err
	}
	s.Decref()
	return nil
}

func (st *Store) appendDroppedID(id uint32) error {
	st.droppedMu.Lock()
	defer st.droppedMu.Unlock()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	if _, err := st.droppedF.Write(buf[:]); err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	return st.droppedF.Sync()
}

func (st *Store) openNewDroppedFile() error {
	f, err := os.OpenFile(path(st.cfg, droppedFileName), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	st.droppedF = f
	return nil
}

// rewriteSeriesFile compacts series.dat from the live catalog, dropping
// entries for ids recorded as dropped (spec.md §4.6 step 4).
func (st *Store) rewriteSeriesFile() error {
	fp, err := qpack.OpenFilePacker(path(st.cfg, seriesFileName))
	if err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	if err := fp.AddArrayOpen(); err != nil {
		return err
	}
	if err := fp.AddInt16(seriesSchemaVersion); err != nil {
		return err
	}
	var werr error
	st.cat.WalkByID(func(s *Series) bool {
		if err := fp.AddArray(3); err != nil {
			werr = err
			return false
		}
		if err := fp.AddStringTerm(s.Name); err != nil {
			werr = err
			return false
		}
		if err := fp.AddInt32(int32(s.ID)); err != nil {
			werr = err
			return false
		}
		if err := fp.AddInt8(int8(s.Type)); err != nil {
			werr = err
			return false
		}
		return true
	})
	if werr != nil {
		fp.Close()
		return werr
	}
	if err := fp.AddEnd(); err != nil {
		return err
	}
	return fp.Close()
}

// PersistMaxSeriesID writes .max_series_id so the high-water mark survives
// a crash before the next optimize pass (spec.md §4.6).
func (st *Store) PersistMaxSeriesID() error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], st.maxSeriesID.Load())
	if err := os.WriteFile(path(st.cfg, maxSeriesIDFileName), buf[:], 0640); err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	return nil
}

// WriteReplicateFile writes every live series id as a 4-byte LE value to
// .replicate, the bootstrap stream a newly joining replica reads (spec.md
// §6; supplements the distilled spec with the behavior
// siridb_series_replicate_file implements in full in series.c).
func (st *Store) WriteReplicateFile() error {
	f, err := os.OpenFile(path(st.cfg, replicateFileName), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		st.errf.Set(engineerr.File)
		return err
	}
	defer f.Close()
	var werr error
	st.cat.WalkByID(func(s *Series) bool {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], s.ID)
		if _, err := f.Write(buf[:]); err != nil {
			werr = err
			return false
		}
		return true
	})
	return werr
}

// WatchReplicate watches .replicate for external rewrites (e.g. another
// process dropping a series out-of-band) and invokes onChange; this is a
// supplemented feature beyond the distilled spec, grounded on
// launix-de/memcp's use of fsnotify for config hot-reload and adapted here
// to series bootstrap state.
func (st *Store) WatchReplicate(onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path(st.cfg, replicateFileName)); err != nil {
		w.Close()
		return err
	}
	st.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (st *Store) Close() error {
	if st.watcher != nil {
		st.watcher.Close()
	}
	if st.droppedF != nil {
		st.droppedF.Close()
	}
	if err := st.PersistMaxSeriesID(); err != nil {
		return err
	}
	return st.fpacker.Close()
}

func (st *Store) ByName(name string) (*Series, bool) { return st.cat.ByName(name) }
func (st *Store) ByID(id uint32) (*Series, bool)     { return st.cat.ByID(id) }
func (st *Store) MaxSeriesID() uint32                { return st.maxSeriesID.Load() }

func readDroppedIDs(fn string) ([]uint32, error) {
	raw, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint32
	for i := 0; i+4 <= len(raw); i += 4 {
		ids = append(ids, binary.LittleEndian.Uint32(raw[i:i+4]))
	}
	return ids, nil
}

func readMaxSeriesID(fn string) (uint32, error) {
	raw, err := os.ReadFile(fn)
	if err != nil {
		return 0, err
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("series: truncated .max_series_id")
	}
	return binary.LittleEndian.Uint32(raw[:4]), nil
}

func trimNUL(raw []byte) string {
	if n := len(raw); n > 0 && raw[n-1] == 0 {
		raw = raw[:n-1]
	}
	return string(raw)
}
