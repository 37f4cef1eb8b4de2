package points

import "testing"

func ts(pts []Point) []uint64 {
	out := make([]uint64, len(pts))
	for i, p := range pts {
		out[i] = p.TS
	}
	return out
}

// Sc2 — out-of-order insert must come back sorted.
func TestAddPointOutOfOrder(t *testing.T) {
	p := New(4, Integer)
	p.AddPoint(Point{TS: 100})
	p.AddPoint(Point{TS: 50})
	p.AddPoint(Point{TS: 75})

	got := ts(p.Data())
	want := []uint64{50, 75, 100}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// Sc1 — buffer flush chunk must be sorted (10,15,20,25).
func TestAddPointFlushOrder(t *testing.T) {
	p := New(4, Integer)
	for _, ts := range []uint64{10, 20, 15, 25} {
		p.AddPoint(Point{TS: ts})
	}
	got := ts(p.Data())
	want := []uint64{10, 15, 20, 25}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAddPointDuplicateTimestampsPreserveInsertionOrder(t *testing.T) {
	p := New(4, Integer)
	p.AddPoint(Point{TS: 10, Int: 1})
	p.AddPoint(Point{TS: 10, Int: 2})
	p.AddPoint(Point{TS: 10, Int: 3})
	data := p.Data()
	for i, want := range []int64{1, 2, 3} {
		if data[i].Int != want {
			t.Fatalf("data[%d].Int = %d, want %d", i, data[i].Int, want)
		}
	}
}

func TestGetRangeHalfOpen(t *testing.T) {
	p := New(8, Integer)
	for _, v := range []uint64{10, 20, 30, 40} {
		p.AddPoint(Point{TS: v})
	}
	start, end := uint64(20), uint64(40)
	r := p.GetRange(&start, &end)
	got := ts(r.Data())
	want := []uint64{20, 30}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestGetRangeUnbounded(t *testing.T) {
	p := New(8, Integer)
	for _, v := range []uint64{10, 20, 30} {
		p.AddPoint(Point{TS: v})
	}
	r := p.GetRange(nil, nil)
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}
