package series

import (
	"sync"
	"sync/atomic"

	"github.com/siridb/siridbd/internal/buffer"
	"github.com/siridb/siridbd/internal/points"
	"github.com/siridb/siridbd/internal/shard"
)

// Series is the logical time series: catalog entry + buffer + index + stats
// (spec.md §3 "Series"). String series never get a Buffer.
type Series struct {
	mu sync.Mutex

	ID     uint32
	Type   points.Type
	Name   string
	Mask   uint16
	Buffer *buffer.Buffer
	Index  Index

	length uint64
	start  uint64
	end    uint64
	ref    atomic.Int32
}

// GetKey/GetName/ComputeSize implement catalog.Named, letting internal/
// catalog index *Series without importing this package.
func (s *Series) GetKey() uint32    { return s.ID }
func (s *Series) GetName() string   { return s.Name }
func (s *Series) ComputeSize() uint { return 64 + uint(len(s.Name)) + uint(s.Index.Len())*18 }

func (s *Series) Length() uint64 { s.mu.Lock(); defer s.mu.Unlock(); return s.length }
func (s *Series) Start() uint64  { s.mu.Lock(); defer s.mu.Unlock(); return s.start }
func (s *Series) End() uint64    { s.mu.Lock(); defer s.mu.Unlock(); return s.end }

// Incref/Decref implement the reference counting described in spec.md §9
// DESIGN NOTES; Decref reports whether this was the final reference, at
// which point the caller (Store) tears the series down.
func (s *Series) Incref() { s.ref.Add(1) }
func (s *Series) Decref() bool {
	return s.ref.Add(-1) == 0
}

// AddIdx records one flushed or compacted chunk's placement in the index
// and keeps start/end in sync, mirroring siridb_series_add_idx_num32's
// bookkeeping plus the start/end maintenance callers perform around it.
func (s *Series) AddIdx(ref shard.Ref, startTS, endTS uint32, pos uint32, length uint16) (overlap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	overlap = s.Index.AddIdx(ref, startTS, endTS, pos, length)
	s.length += uint64(length)
	if s.start == 0 || uint64(startTS) < s.start {
		s.start = uint64(startTS)
	}
	if uint64(endTS) > s.end {
		s.end = uint64(endTS)
	}
	return overlap
}

// RemoveShardRef drops every index entry referring to ref (one shard being
// replaced during optimization), and rescans start/end if the removed
// range bracketed them (spec.md §4.5).
func (s *Series) RemoveShardRef(ref shard.Ref, shardStart, shardEnd uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.Index.RemoveShard(ref)
	if removed == 0 {
		return
	}
	s.length -= removed
	if s.start >= shardStart && s.start < shardEnd {
		s.rescanStartLocked()
	}
	if s.end < shardEnd && s.end > shardStart {
		s.rescanEndLocked()
	}
}

// rescanStartLocked mirrors SERIES_update_start_num32: start becomes the
// first index entry's start_ts, folded against the buffer's first point if
// that point is earlier.
func (s *Series) rescanStartLocked() {
	entries := s.Index.Entries()
	if len(entries) > 0 {
		s.start = uint64(entries[0].StartTS)
	} else {
		s.start = 0
	}
	if s.Buffer != nil && s.Buffer.Points.Len() > 0 {
		first := s.Buffer.Points.At(0)
		if s.Index.Len() == 0 || first.TS < s.start {
			s.start = first.TS
		}
	}
}

// rescanEndLocked mirrors SERIES_update_end_num32: walk entries from the
// end, tracking the maximum end_ts over a contiguous run where each
// subsequent end_ts is at least as large as the running start_ts, to
// correctly fold in trailing overlaps.
func (s *Series) rescanEndLocked() {
	entries := s.Index.Entries()
	var running uint32
	var maxEnd uint64
	for i := len(entries); i > 0; i-- {
		e := entries[i-1]
		if e.EndTS < running {
			break
		}
		running = e.StartTS
		if uint64(e.EndTS) > maxEnd {
			maxEnd = uint64(e.EndTS)
		}
	}
	s.end = maxEnd
	if s.Buffer != nil && s.Buffer.Points.Len() > 0 {
		last := s.Buffer.Points.At(s.Buffer.Points.Len() - 1)
		if last.TS > s.end {
			s.end = last.TS
		}
	}
}

// ChunkReader reads one shard chunk's points back, given the IndexEntry
// that located it — supplied by the caller (internal/siridb) so this
// package stays decoupled from shard.Manager's compression/backend
// concerns.
type ChunkReader func(e IndexEntry) ([]points.Point, error)

// GetPoints collects, in order, every index entry overlapping
// [start,end), reads each via read, then crops and merges the buffer
// suffix — the Go shape of siridb_series_get_points_num32 (spec.md §4.5).
func (s *Series) GetPoints(start, end *uint64, read ChunkReader) (*points.Points, error) {
	s.mu.Lock()
	entries := append([]IndexEntry(nil), s.Index.Entries()...)
	s.mu.Unlock()

	var matched []IndexEntry
	for _, e := range entries {
		if start != nil && uint64(e.EndTS) < *start {
			continue
		}
		if end != nil && uint64(e.StartTS) >= *end {
			continue
		}
		matched = append(matched, e)
	}

	result := points.New(0, s.Type)
	for _, e := range matched {
		chunkPts, err := read(e)
		if err != nil {
			return nil, err
		}
		for _, pt := range chunkPts {
			if start != nil && pt.TS < *start {
				continue
			}
			if end != nil && pt.TS >= *end {
				continue
			}
			result.Append(pt)
		}
	}

	if s.Buffer != nil {
		bufData := s.Buffer.Points.Data()
		lo, hi := 0, len(bufData)
		if start != nil {
			for lo < hi && bufData[lo].TS < *start {
				lo++
			}
		}
		if end != nil {
			for hi > lo && bufData[hi-1].TS >= *end {
				hi--
			}
		}
		for _, pt := range bufData[lo:hi] {
			result.Append(pt)
		}
	}
	result.Shrink()
	return result, nil
}
