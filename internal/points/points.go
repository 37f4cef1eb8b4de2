// Package points implements the sorted, typed (ts, value) sequence that
// backs both a series buffer and the result of a range read (spec.md §4.2).
package points

// Type is the exactly-once value type a series is created with.
type Type uint8

const (
	Integer Type = iota
	Float
	String
)

// Point is one (timestamp, value) sample. Only one of Int/Float/Str is
// meaningful, selected by the owning series' Type.
type Point struct {
	TS    uint64
	Int   int64
	Float float64
	Str   string
}

// Points is an ordered sequence sorted by TS ascending. Duplicate timestamps
// are allowed and preserved in insertion order (spec.md §3).
type Points struct {
	Type Type
	data []Point
}

// New returns an empty Points with capacity hinted by cap.
func New(capacity int, tp Type) *Points {
	return &Points{Type: tp, data: make([]Point, 0, capacity)}
}

// Len reports the number of points currently held.
func (p *Points) Len() int { return len(p.data) }

// At returns the point at position i.
func (p *Points) At(i int) Point { return p.data[i] }

// Data exposes the backing slice for callers that need to scan it directly
// (e.g. cropping a buffer suffix in series.Index.GetPoints).
func (p *Points) Data() []Point { return p.data }

// AddPoint inserts a point keeping TS order, stable on duplicate
// timestamps. Insertion is tail-biased: real workloads append in
// near-sorted order, so scanning backward from the tail usually finds the
// insertion point in O(1) and only degrades to O(n) for genuinely
// out-of-order writes (spec.md §3, §4.2).
func (p *Points) AddPoint(pt Point) {
	i := len(p.data)
	for i > 0 && p.data[i-1].TS > pt.TS {
		i--
	}
	p.data = append(p.data, Point{})
	copy(p.data[i+1:], p.data[i:len(p.data)-1])
	p.data[i] = pt
}

// AddRaw is a convenience wrapper for integer/float series.
func (p *Points) AddRaw(ts uint64, intVal int64, floatVal float64) {
	switch p.Type {
	case Float:
		p.AddPoint(Point{TS: ts, Float: floatVal})
	default:
		p.AddPoint(Point{TS: ts, Int: intVal})
	}
}

// Reset discards all points but keeps the backing array.
func (p *Points) Reset() { p.data = p.data[:0] }

// GetRange returns a new Points holding every point with TS in the
// half-open interval [start, end): matches the index filter semantics used
// by series.Index.GetPoints (spec.md §4.2, §8 property 3). A nil start or
// end means "unbounded" on that side.
func (p *Points) GetRange(start, end *uint64) *Points {
	out := New(len(p.data), p.Type)
	for _, pt := range p.data {
		if start != nil && pt.TS < *start {
			continue
		}
		if end != nil && pt.TS >= *end {
			continue
		}
		out.data = append(out.data, pt)
	}
	return out
}

// Append adds pt to the tail without reordering; used when the caller
// already knows points arrive in sorted order (shard chunk reads).
func (p *Points) Append(pt Point) {
	p.data = append(p.data, pt)
}

// Shrink trims the backing array to the current length, mirroring the C
// implementation's realloc-to-fit at the end of a range read.
func (p *Points) Shrink() {
	if cap(p.data) > len(p.data) {
		nd := make([]Point, len(p.data))
		copy(nd, p.data)
		p.data = nd
	}
}
