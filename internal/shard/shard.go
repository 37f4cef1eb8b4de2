// Package shard implements the on-disk, append-only chunk storage described
// in spec.md §3/§4.4: one file per time slice (plus mask) holding a header
// of bitfield flags and an append-heap of point chunks. Chunk bodies are
// lz4-compressed on the flush path the way a hot write path wants cheap,
// fast compression; the optimizer recompresses with xz during compaction,
// where the cost is amortized over an already-expensive rewrite pass (see
// DESIGN.md).
package shard

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/persist"
	"github.com/siridb/siridbd/internal/points"
)

// Flags is the shard header bitfield (spec.md §3 "Shard").
type Flags uint8

const (
	HasNewValues Flags = 1 << iota
	IsLoading
	HasOverlap
	Replacing
)

// ID is a shard's identity: the start of its time slice plus the series
// mask that selects it within that slice. Because mask < duration for any
// sane configuration, `id mod duration == mask` always holds — this is the
// concrete scheme behind spec.md §8 invariant 4
// ("H.id mod duration == S.mask"): a shard's id is not merely the slice
// start, it is slice_start+mask, so the invariant falls out of the
// construction rather than needing to be checked separately.
type ID = uint64

// Ref is the opaque handle index entries use to refer to a shard, per
// spec.md §9 DESIGN NOTES ("series hold index entries that refer to shards
// by identity ... never by owning pointer").
type Ref = uint64

// SliceStart aligns ts down to the start of its duration-wide time slice.
func SliceStart(ts uint64, duration uint64) uint64 {
	return ts - (ts % duration)
}

// ComputeID derives the shard id owning ts for a series with the given
// mask, using duration_num or duration_log depending on series type.
func ComputeID(ts uint64, duration uint64, mask uint16) ID {
	return SliceStart(ts, duration) + uint64(mask)
}

// Manager owns every open shard of one database: the small header files
// (kept local for the same reason buffer.dat and series.dat are — tiny,
// frequently rewritten metadata that gains nothing from object storage) and
// the persist.Engine backing chunk bodies, which may be file, S3, or Ceph.
type Manager struct {
	cfg  config.Config
	eng  persist.Engine
	errf *engineerr.Flag

	mu     sync.Mutex
	shards map[ID]*Shard
}

func NewManager(cfg config.Config, eng persist.Engine, errf *engineerr.Flag) *Manager {
	return &Manager{cfg: cfg, eng: eng, errf: errf, shards: make(map[ID]*Shard)}
}

func (m *Manager) key(id ID) string { return fmt.Sprintf("%d", id) }

func (m *Manager) headerPath(id ID) string {
	return filepath.Join(m.cfg.DataDir, fmt.Sprintf(".shard-%d.hdr", id))
}

type headerFile struct {
	Flags      Flags `json:"flags"`
	Replacing  ID    `json:"replacing,omitempty"`
}

// Open returns the shard for id, creating a fresh header (flags=0) the
// first time it is referenced.
func (m *Manager) Open(id ID) (*Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shards[id]; ok {
		return s, nil
	}
	s := &Shard{mgr: m, id: id}
	raw, err := os.ReadFile(m.headerPath(id))
	if err == nil && len(raw) > 0 {
		var hf headerFile
		if jerr := json.Unmarshal(raw, &hf); jerr == nil {
			s.flags = hf.Flags
			s.replacing = hf.Replacing
		}
	} else {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
	}
	m.shards[id] = s
	return s, nil
}

// Shard is one time-sliced, mask-selected chunk file.
type Shard struct {
	mgr *Manager
	id  ID

	mu        sync.Mutex
	flags     Flags
	replacing ID

	appendW persist.AppendWriter
}

func (s *Shard) ID() ID         { return s.id }
func (s *Shard) Flags() Flags   { return s.flags }
func (s *Shard) Replacing() ID  { return s.replacing }

// SetFlags rewrites the shard's JSON header file (spec.md §4.4
// "write_flags").
func (s *Shard) SetFlags(f Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
	return s.writeHeader()
}

// SetReplacing marks this shard as the target of an in-progress
// optimization pass whose source is old (spec.md §3 "a replacing pointer
// used during optimization").
func (s *Shard) SetReplacing(old ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replacing = old
	s.flags |= Replacing
	return s.writeHeader()
}

func (s *Shard) writeHeader() error {
	raw, err := json.Marshal(headerFile{Flags: s.flags, Replacing: s.replacing})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.mgr.cfg.DataDir, 0750); err != nil {
		s.mgr.errf.Set(engineerr.File)
		return err
	}
	if err := os.WriteFile(s.mgr.headerPath(s.id), raw, 0640); err != nil {
		s.mgr.errf.Set(engineerr.File)
		return err
	}
	return nil
}

func (s *Shard) appendWriter() (persist.AppendWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendW != nil {
		return s.appendW, nil
	}
	w, err := s.mgr.eng.OpenShardAppend(s.mgr.key(s.id))
	if err != nil {
		s.mgr.errf.Set(engineerr.File)
		return nil, err
	}
	s.appendW = w
	return w, nil
}

// WriteChunk encodes, lz4-compresses, and appends one chunk of points
// belonging to seriesID, returning the starting file offset so the caller
// can record it in the series index (spec.md §4.4 "write_points ...
// returning the starting file offset").
func (s *Shard) WriteChunk(seriesID uint32, tp points.Type, pts []points.Point) (offset int64, err error) {
	raw := EncodeChunk(seriesID, tp, pts)
	compressed, err := compressLZ4(raw)
	if err != nil {
		s.mgr.errf.Set(engineerr.File)
		return 0, fmt.Errorf("shard: compress chunk: %w", err)
	}
	w, err := s.appendWriter()
	if err != nil {
		return 0, err
	}
	offset, err = persist.WriteChunk(w, compressed)
	if err != nil {
		s.mgr.errf.Set(engineerr.File)
		return 0, fmt.Errorf("shard: write chunk: %w", err)
	}
	if err := w.Sync(); err != nil {
		s.mgr.errf.Set(engineerr.File)
		return 0, err
	}
	s.mu.Lock()
	s.flags |= HasNewValues
	if s.flags&IsLoading != 0 {
		// IS_LOADING suppresses HAS_NEW_VALUES marking (spec.md §4.4).
		s.flags &^= HasNewValues
	}
	s.mu.Unlock()
	if err := s.writeHeader(); err != nil {
		return offset, err
	}
	return offset, nil
}

// Chunk is one decoded run of points read back from a shard, tagged with
// the series it belongs to (a shard is shared by every series whose mask
// selects it, so the envelope must carry ownership — see DecodeChunk).
type Chunk struct {
	SeriesID uint32
	Type     points.Type
	Points   []points.Point
}

// EncodeChunk frames a chunk as [seriesID u32][type u8][npoints u16]
// followed by fixed 16-byte (ts,val) records for numeric series or
// (ts u64, strlen u16, bytes) records for string series.
func EncodeChunk(seriesID uint32, tp points.Type, pts []points.Point) []byte {
	buf := make([]byte, 0, 7+len(pts)*16)
	var hdr [7]byte
	binary.LittleEndian.PutUint32(hdr[0:4], seriesID)
	hdr[4] = byte(tp)
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(len(pts)))
	buf = append(buf, hdr[:]...)
	for _, pt := range pts {
		var ts8 [8]byte
		binary.LittleEndian.PutUint64(ts8[:], pt.TS)
		buf = append(buf, ts8[:]...)
		switch tp {
		case points.String:
			s := pt.Str
			var slen [2]byte
			binary.LittleEndian.PutUint16(slen[:], uint16(len(s)))
			buf = append(buf, slen[:]...)
			buf = append(buf, s...)
		case points.Float:
			var v8 [8]byte
			binary.LittleEndian.PutUint64(v8[:], math.Float64bits(pt.Float))
			buf = append(buf, v8[:]...)
		default:
			var v8 [8]byte
			binary.LittleEndian.PutUint64(v8[:], uint64(pt.Int))
			buf = append(buf, v8[:]...)
		}
	}
	return buf
}

// DecodeChunk reverses EncodeChunk.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < 7 {
		return Chunk{}, fmt.Errorf("shard: chunk envelope too short")
	}
	seriesID := binary.LittleEndian.Uint32(data[0:4])
	tp := points.Type(data[4])
	n := int(binary.LittleEndian.Uint16(data[5:7]))
	off := 7
	pts := make([]points.Point, 0, n)
	for i := 0; i < n; i++ {
		if off+8 > len(data) {
			return Chunk{}, fmt.Errorf("shard: truncated chunk")
		}
		ts := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		var pt points.Point
		pt.TS = ts
		switch tp {
		case points.String:
			if off+2 > len(data) {
				return Chunk{}, fmt.Errorf("shard: truncated string length")
			}
			slen := int(binary.LittleEndian.Uint16(data[off : off+2]))
			off += 2
			if off+slen > len(data) {
				return Chunk{}, fmt.Errorf("shard: truncated string value")
			}
			pt.Str = string(data[off : off+slen])
			off += slen
		case points.Float:
			if off+8 > len(data) {
				return Chunk{}, fmt.Errorf("shard: truncated float value")
			}
			pt.Float = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		default:
			if off+8 > len(data) {
				return Chunk{}, fmt.Errorf("shard: truncated int value")
			}
			pt.Int = int64(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
		}
		pts = append(pts, pt)
	}
	return Chunk{SeriesID: seriesID, Type: tp, Points: pts}, nil
}

// ReplayChunks streams every chunk ever appended to the shard in append
// order, decoded, so a caller can rebuild series index entries from them.
// series.Load does not call it: a series' index is not rebuilt from shard
// chunks on load.
func (m *Manager) ReplayChunks(id ID) (<-chan ReplayedChunk, error) {
	raw, err := m.eng.ReplayShardChunks(m.key(id))
	if err != nil {
		return nil, err
	}
	out := make(chan ReplayedChunk, 8)
	go func() {
		defer close(out)
		for c := range raw {
			plain, err := decompressLZ4(c.Data)
			if err != nil {
				continue
			}
			chunk, err := DecodeChunk(plain)
			if err != nil {
				continue
			}
			out <- ReplayedChunk{Offset: c.Offset, Chunk: chunk}
		}
	}()
	return out, nil
}

// ReplayedChunk pairs a decoded chunk with the file offset it was read
// from, so the caller can rebuild a series index entry directly.
type ReplayedChunk struct {
	Offset int64
	Chunk  Chunk
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	dst := make([]byte, bound)
	var c lz4.Compressor
	n, err := c.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible; lz4 signals this by writing nothing — fall back
		// to storing raw with a sentinel so decompress can tell them apart.
		return append([]byte{0}, data...), nil
	}
	framed := make([]byte, 0, 9+n)
	framed = append(framed, 1)
	var szbuf [4]byte
	binary.LittleEndian.PutUint32(szbuf[:], uint32(len(data)))
	framed = append(framed, szbuf[:]...)
	framed = append(framed, dst[:n]...)
	return framed, nil
}

func decompressLZ4(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("shard: empty chunk")
	}
	switch framed[0] {
	case 0:
		return framed[1:], nil
	case 1:
		if len(framed) < 5 {
			return nil, fmt.Errorf("shard: truncated lz4 frame")
		}
		origSize := binary.LittleEndian.Uint32(framed[1:5])
		dst := make([]byte, origSize)
		n, err := lz4.UncompressBlock(framed[5:], dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("shard: unknown chunk codec %d", framed[0])
	}
}
