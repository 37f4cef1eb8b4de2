package condition

import (
	"testing"

	"github.com/siridb/siridbd/internal/pool"
)

func TestIntCmpOperators(t *testing.T) {
	cases := []struct {
		op   Operator
		a, b int64
		want bool
	}{
		{Eq, 5, 5, true},
		{Eq, 5, 6, false},
		{Ne, 5, 6, true},
		{Gt, 6, 5, true},
		{Ge, 5, 5, true},
		{Lt, 4, 5, true},
		{Le, 5, 5, true},
	}
	for _, c := range cases {
		if got := IntCmp(c.op, c.a, c.b); got != c.want {
			t.Fatalf("IntCmp(%v,%d,%d) = %v, want %v", c.op, c.a, c.b, got, c.want)
		}
	}
}

func TestStrCmpOnlyEqualityMeaningful(t *testing.T) {
	if !StrCmp(Eq, "cpu.load", "cpu.load") {
		t.Fatalf("expected equal strings to match")
	}
	if StrCmp(Eq, "cpu.load", "mem.used") {
		t.Fatalf("expected different strings to not match")
	}
	if !StrCmp(Ne, "cpu.load", "mem.used") {
		t.Fatalf("expected Ne to hold for different strings")
	}
	if StrCmp(Gt, "a", "b") {
		t.Fatalf("Gt is not meaningful for strings, expected false")
	}
}

func TestEvalPoolProperties(t *testing.T) {
	p := pool.New(3)
	w := PoolWalker{Pool: p, SeriesCount: 42}

	if !EvalPool(w, Condition{Prop: "pool_id", Op: Eq, Int: 3}) {
		t.Fatalf("expected pool_id == 3 to match")
	}
	if !EvalPool(w, Condition{Prop: "series_count", Op: Ge, Int: 42}) {
		t.Fatalf("expected series_count >= 42 to match")
	}
	if !EvalPool(w, Condition{Prop: "servers", Op: Eq, Int: 0}) {
		t.Fatalf("expected empty pool to report 0 servers")
	}
	if EvalPool(w, Condition{Prop: "unknown", Op: Eq, Int: 0}) {
		t.Fatalf("expected unrecognized property to not match")
	}
}
