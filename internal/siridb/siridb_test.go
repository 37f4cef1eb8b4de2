package siridb

import (
	"testing"

	"github.com/siridb/siridbd/internal/config"
	"github.com/siridb/siridbd/internal/log"
	"github.com/siridb/siridbd/internal/persist"
	"github.com/siridb/siridbd/internal/points"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.BufferLen = 4
	eng := (&persist.FileFactory{BaseDir: dir}).CreateDatabase("testdb")
	db, err := Open("testdb", cfg, eng, log.New(discard{}, false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateSeriesAndAddPointFlushesAtBufferLen(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	s, err := db.CreateSeries("cpu.load", points.Integer)
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}

	for i := uint64(1); i <= 3; i++ {
		if err := db.AddPoint(s, points.Point{TS: i, Int: int64(i)}); err != nil {
			t.Fatalf("AddPoint: %v", err)
		}
	}
	if s.Buffer.Points.Len() != 3 {
		t.Fatalf("buffer len = %d, want 3 before flush", s.Buffer.Points.Len())
	}

	// Fourth point reaches buffer_len=4 and triggers a flush to shards.
	if err := db.AddPoint(s, points.Point{TS: 4, Int: 4}); err != nil {
		t.Fatalf("AddPoint (flush): %v", err)
	}
	if s.Buffer.Points.Len() != 0 {
		t.Fatalf("buffer len = %d after flush, want 0", s.Buffer.Points.Len())
	}
	if s.Length() != 4 {
		t.Fatalf("series length = %d after flush, want 4", s.Length())
	}
	if s.Index.Len() != 1 {
		t.Fatalf("index entries = %d after one flush, want 1", s.Index.Len())
	}
}

func TestDropSeriesThenRecreateGetsNewID(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	s, err := db.CreateSeries("temp.sensor", points.Float)
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	oldID := s.ID
	if err := db.DropSeries("temp.sensor"); err != nil {
		t.Fatalf("DropSeries: %v", err)
	}
	if _, ok := db.Series.ByName("temp.sensor"); ok {
		t.Fatalf("expected series gone from catalog after drop")
	}

	s2, err := db.CreateSeries("temp.sensor", points.Float)
	if err != nil {
		t.Fatalf("CreateSeries after drop: %v", err)
	}
	if s2.ID == oldID {
		t.Fatalf("recreated series reused dropped id %d", oldID)
	}
}

func TestEngineErrorLatchBlocksMutation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	db.ErrFlag.Set(1)
	if _, err := db.CreateSeries("blocked", points.Integer); err == nil {
		t.Fatalf("expected CreateSeries to fail once error flag is latched")
	}
}
