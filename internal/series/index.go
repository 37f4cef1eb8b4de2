// Package series implements the logical time series described in
// spec.md §3/§4.5/§4.6: catalog entry, buffer, and a sorted index stitching
// shard chunk references into an ordered view. Grounded on
// original_source/src/siri/db/series.c (siridb_series_add_idx_num32,
// siridb_series_remove_shard_num32, SERIES_update_start_num32/
// SERIES_update_end_num32, siridb_series_get_points_num32) reworked as
// owned Go slices instead of realloc'd C arrays.
package series

import "github.com/siridb/siridbd/internal/shard"

// IndexEntry is the 32-bit time variant from spec.md §3/§4.5.
type IndexEntry struct {
	StartTS uint32
	EndTS   uint32
	Shard   shard.Ref
	Pos     uint32
	Len     uint16
}

// Index is a densely packed, start_ts-sorted vector of IndexEntry, the Go
// analogue of idx_num32_t[] plus its has_overlap flag.
type Index struct {
	entries    []IndexEntry
	hasOverlap bool
}

func (ix *Index) Len() int                { return len(ix.entries) }
func (ix *Index) Entries() []IndexEntry   { return ix.entries }
func (ix *Index) HasOverlap() bool        { return ix.hasOverlap }

// AddIdx performs the O(n) suffix-shift insertion that keeps entries
// sorted by start_ts (spec.md §4.5), then flags an overlap against either
// neighbor (spec.md §4.4 "Overlap detection"). Returns whether this
// insertion introduced an overlap, so the caller can also raise the
// owning shard's HAS_OVERLAP flag.
func (ix *Index) AddIdx(ref shard.Ref, startTS, endTS uint32, pos uint32, length uint16) bool {
	i := len(ix.entries)
	ix.entries = append(ix.entries, IndexEntry{})
	for i > 0 && startTS < ix.entries[i-1].StartTS {
		ix.entries[i] = ix.entries[i-1]
		i--
	}
	ix.entries[i] = IndexEntry{StartTS: startTS, EndTS: endTS, Shard: ref, Pos: pos, Len: length}

	overlap := false
	if i > 0 && ix.entries[i-1].EndTS >= startTS {
		overlap = true
	}
	if i+1 < len(ix.entries) && endTS >= ix.entries[i+1].StartTS {
		overlap = true
	}
	if overlap {
		ix.hasOverlap = true
	}
	return overlap
}

// RemoveShard compacts the index in a single pass, dropping every entry
// referring to ref, and returns the total point count removed
// (spec.md §4.5 "remove_shard ... compacts the vector in a single pass").
func (ix *Index) RemoveShard(ref shard.Ref) uint64 {
	var removedLen uint64
	offset := 0
	for i := range ix.entries {
		if ix.entries[i].Shard == ref {
			offset++
			removedLen += uint64(ix.entries[i].Len)
			continue
		}
		if offset > 0 {
			ix.entries[i-offset] = ix.entries[i]
		}
	}
	if offset > 0 {
		ix.entries = ix.entries[:len(ix.entries)-offset]
	}
	return removedLen
}

// RewriteEntry replaces the entry for an old (start_ts,end_ts,shard)
// reference with a new one in place, used by the optimizer once a chunk
// has been recompacted into a new shard (spec.md §4.4 "rewrites the
// matching index entries in place"). It finds the entry by old shard ref
// and old start_ts, since those uniquely identify one chunk before the
// rewrite.
func (ix *Index) RewriteEntry(oldRef shard.Ref, oldStartTS uint32, newRef shard.Ref, startTS, endTS uint32, pos uint32, length uint16) bool {
	for i := range ix.entries {
		if ix.entries[i].Shard == oldRef && ix.entries[i].StartTS == oldStartTS {
			ix.entries[i] = IndexEntry{StartTS: startTS, EndTS: endTS, Shard: newRef, Pos: pos, Len: length}
			return true
		}
	}
	return false
}
