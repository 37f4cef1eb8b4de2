package series

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/siridb/siridbd/internal/buffer"
	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/engineerr"
	"github.com/siridb/siridbd/internal/points"
)

func newTestStore(t *testing.T, dir string) (*Store, *buffer.Manager) {
	t.Helper()
	cfg := config.Default(dir)
	var errf engineerr.Flag
	bufMgr, err := buffer.Open(cfg, &errf)
	if err != nil {
		t.Fatalf("buffer.Open: %v", err)
	}
	st, err := Load(cfg, bufMgr, &errf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return st, bufMgr
}

func TestNewSeriesAssignsIncrementingIDs(t *testing.T) {
	dir := t.TempDir()
	st, _ := newTestStore(t, dir)

	a, err := st.New("a", points.Integer)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := st.New("b", points.Float)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	if a.ID == 0 || b.ID != a.ID+1 {
		t.Fatalf("ids = %d,%d, want consecutive starting above 0", a.ID, b.ID)
	}
	if _, ok := st.ByName("a"); !ok {
		t.Fatalf("ByName(a) not found")
	}
	if _, ok := st.ByID(a.ID); !ok {
		t.Fatalf("ByID(%d) not found", a.ID)
	}
}

func TestNewDuplicateNameRejected(t *testing.T) {
	dir := t.TempDir()
	st, _ := newTestStore(t, dir)
	if _, err := st.New("dup", points.Integer); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := st.New("dup", points.Float); err == nil {
		t.Fatalf("expected error creating duplicate series name")
	}
}

// Sc4 — a dropped series id must never reappear after a restart, and the
// max_series_id high-water mark must never regress across restarts.
func TestDroppedSeriesSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, bufMgr := newTestStore(t, dir)

	s1, err := st.New("keep", points.Integer)
	if err != nil {
		t.Fatalf("New keep: %v", err)
	}
	s2, err := st.New("gone", points.Integer)
	if err != nil {
		t.Fatalf("New gone: %v", err)
	}
	if err := st.Drop(s2); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if err := st.PersistMaxSeriesID(); err != nil {
		t.Fatalf("PersistMaxSeriesID: %v", err)
	}
	maxBefore := st.MaxSeriesID()
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	bufMgr.Close()

	st2, bufMgr2 := newTestStore(t, dir)
	defer bufMgr2.Close()
	defer st2.Close()

	if _, ok := st2.ByID(s2.ID); ok {
		t.Fatalf("dropped series id %d reappeared after restart", s2.ID)
	}
	if _, ok := st2.ByName("gone"); ok {
		t.Fatalf("dropped series name reappeared after restart")
	}
	if _, ok := st2.ByID(s1.ID); !ok {
		t.Fatalf("surviving series id %d missing after restart", s1.ID)
	}
	if st2.MaxSeriesID() < maxBefore {
		t.Fatalf("max_series_id regressed across restart: %d < %d", st2.MaxSeriesID(), maxBefore)
	}

	// A series created after restart must never reuse the dropped id.
	s3, err := st2.New("fresh", points.Integer)
	if err != nil {
		t.Fatalf("New fresh: %v", err)
	}
	if s3.ID == s2.ID {
		t.Fatalf("reused dropped series id %d", s2.ID)
	}
}

func TestWriteReplicateFileListsLiveSeries(t *testing.T) {
	dir := t.TempDir()
	st, _ := newTestStore(t, dir)
	s, err := st.New("a", points.Integer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := st.WriteReplicateFile(); err != nil {
		t.Fatalf("WriteReplicateFile: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ".replicate"))
	if err != nil {
		t.Fatalf("read .replicate: %v", err)
	}
	if len(raw) != 4 || binary.LittleEndian.Uint32(raw) != s.ID {
		t.Fatalf(".replicate = %v, want the single id %d as 4-byte LE", raw, s.ID)
	}
}

func TestStringSeriesHasNoBuffer(t *testing.T) {
	dir := t.TempDir()
	st, _ := newTestStore(t, dir)
	s, err := st.New("logline", points.String)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Buffer != nil {
		t.Fatalf("string series unexpectedly got a buffer slot")
	}
}
