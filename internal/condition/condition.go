// Package condition implements the property-comparison glue the (external,
// out-of-scope) query layer plugs into when evaluating a `where` expression
// over series or pools: siridb_series_cexpr_cb and siridb_pool_cexpr_cb in
// original_source/src/siri/db/{series,pool}.c, reworked as small typed
// accessor maps instead of a C switch over a grammar property id.
package condition

import (
	"github.com/siridb/siridbd/internal/pool"
	"github.com/siridb/siridbd/internal/series"
)

// Operator mirrors cexpr_condition_t's comparison operators.
type Operator int

const (
	Eq Operator = iota
	Ne
	Gt
	Ge
	Lt
	Le
)

// IntCmp evaluates an integer comparison (cexpr_int_cmp).
func IntCmp(op Operator, a, b int64) bool {
	switch op {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	case Lt:
		return a < b
	case Le:
		return a <= b
	default:
		return false
	}
}

// StrCmp evaluates a string comparison (cexpr_str_cmp); only equality and
// inequality are meaningful for names.
func StrCmp(op Operator, a, b string) bool {
	switch op {
	case Eq:
		return a == b
	case Ne:
		return a != b
	default:
		return false
	}
}

// Condition is one property/operator/operand triple the query layer
// constructs and this package evaluates.
type Condition struct {
	Prop string
	Op   Operator
	Int  int64
	Str  string
}

// SeriesWalker pairs a series with the pool id it routes to, mirroring
// siridb_series_walker_t's (series, pool) bundle — properties like "pool"
// aren't stored on Series itself.
type SeriesWalker struct {
	Series *series.Series
	Pool   int64
}

// seriesIntProps are the series properties compared as integers
// (siridb_series_cexpr_cb: length/start/end/pool/type).
var seriesIntProps = map[string]func(SeriesWalker) int64{
	"length": func(w SeriesWalker) int64 { return int64(w.Series.Length()) },
	"start":  func(w SeriesWalker) int64 { return int64(w.Series.Start()) },
	"end":    func(w SeriesWalker) int64 { return int64(w.Series.End()) },
	"pool":   func(w SeriesWalker) int64 { return w.Pool },
	"type":   func(w SeriesWalker) int64 { return int64(w.Series.Type) },
}

// EvalSeries evaluates cond against w, matching siridb_series_cexpr_cb's
// switch exactly: "name" compares as a string, every other recognized
// property compares as an integer.
func EvalSeries(w SeriesWalker, cond Condition) bool {
	if cond.Prop == "name" {
		return StrCmp(cond.Op, w.Series.Name, cond.Str)
	}
	accessor, ok := seriesIntProps[cond.Prop]
	if !ok {
		return false
	}
	return IntCmp(cond.Op, accessor(w), cond.Int)
}

// PoolWalker mirrors siridb_pool_walker_t: a pool plus its precomputed
// series count (spec.md §4.8's pool lookup has no intrinsic series
// counter, so the caller supplies it).
type PoolWalker struct {
	Pool        *pool.Pool
	SeriesCount int64
}

var poolIntProps = map[string]func(PoolWalker) int64{
	"pool_id":      func(w PoolWalker) int64 { return int64(w.Pool.ID) },
	"servers":      func(w PoolWalker) int64 { return int64(w.Pool.Len()) },
	"series_count": func(w PoolWalker) int64 { return w.SeriesCount },
}

// EvalPool evaluates cond against w, matching siridb_pool_cexpr_cb.
func EvalPool(w PoolWalker, cond Condition) bool {
	accessor, ok := poolIntProps[cond.Prop]
	if !ok {
		return false
	}
	return IntCmp(cond.Op, accessor(w), cond.Int)
}
