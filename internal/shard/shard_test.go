package shard

import (
	"testing"

	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/persist"
	"github.com/siridb/siridbd/internal/points"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	eng := (&persist.FileFactory{BaseDir: dir}).CreateDatabase("testdb")
	cfg := config.Default(dir)
	var errf engineerr.Flag
	return NewManager(cfg, eng, &errf)
}

// Sc1 — the chunk a flush writes for (10,15,20,25) must round-trip intact.
func TestWriteChunkAndReplay(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Open(ComputeID(0, 3600, 7))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pts := []points.Point{{TS: 10, Int: 1}, {TS: 15, Int: 2}, {TS: 20, Int: 3}, {TS: 25, Int: 4}}
	offset, err := s.WriteChunk(1, points.Integer, pts)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if offset != 0 {
		t.Fatalf("first chunk offset = %d, want 0", offset)
	}
	if s.Flags()&HasNewValues == 0 {
		t.Fatalf("expected HasNewValues flag set after write")
	}

	ch, err := m.ReplayChunks(s.ID())
	if err != nil {
		t.Fatalf("ReplayChunks: %v", err)
	}
	var got []ReplayedChunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("replayed %d chunks, want 1", len(got))
	}
	if got[0].Chunk.SeriesID != 1 || len(got[0].Chunk.Points) != 4 {
		t.Fatalf("replayed chunk = %+v", got[0].Chunk)
	}
	for i, pt := range got[0].Chunk.Points {
		if pt.TS != pts[i].TS || pt.Int != pts[i].Int {
			t.Fatalf("point %d = %+v, want %+v", i, pt, pts[i])
		}
	}
}

func TestComputeIDSatisfiesMaskInvariant(t *testing.T) {
	duration := uint64(3600)
	mask := uint16(13)
	id := ComputeID(123456, duration, mask)
	if id%duration != uint64(mask) {
		t.Fatalf("id %% duration = %d, want mask %d", id%duration, mask)
	}
}

// Sc6 — 18 points at max_chunk_points=10 coalesce into two 9-point chunks.
func TestTargetChunkSizeSc6(t *testing.T) {
	got := TargetChunkSize(18, 10)
	if got != 9 {
		t.Fatalf("TargetChunkSize(18,10) = %d, want 9", got)
	}
}

func TestCoalesceRewritesIndexPreservingLength(t *testing.T) {
	m := newTestManager(t)
	dst, err := m.Open(ComputeID(0, 3600, 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var all []points.Point
	for i := 0; i < 18; i++ {
		all = append(all, points.Point{TS: uint64(i + 1), Int: int64(i)})
	}
	rechunked, err := Coalesce(dst, 1, points.Integer, all, 10)
	if err != nil {
		t.Fatalf("Coalesce: %v", err)
	}
	if len(rechunked) != 2 {
		t.Fatalf("got %d chunks, want 2", len(rechunked))
	}
	var total int
	for _, r := range rechunked {
		total += int(r.Len)
	}
	if total != 18 {
		t.Fatalf("total rechunked length = %d, want 18 (series.length unchanged)", total)
	}
	if rechunked[0].Len != 9 || rechunked[1].Len != 9 {
		t.Fatalf("chunk lens = %v, want [9 9]", rechunked)
	}
}
