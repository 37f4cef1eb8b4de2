// Package catalog implements the series lookup structures described in
// spec.md §4.7: an ordered name→series index and a numeric id→series index,
// plus the dropped-id set consulted while loading series.dat. The original
// C engine uses a ternary trie and a two-level imap32; this package
// replaces both with real dependencies the rest of the example pack already
// leans on: google/btree for the ordered name index (the same library
// backs the teacher's own delta index, storage/index.go's
// `StorageIndex.deltaBtree`) and launix-de/NonLockingReadMap for the
// read-heavy id index (catalog lookups vastly outnumber series
// creates/drops, which is exactly the access pattern that map is built
// for).
//
// The package is generic over any value implementing Keyed so it has no
// import-time dependency on internal/series — internal/series imports
// catalog, not the other way around (spec.md §9 DESIGN NOTES: "typed
// iterators over the catalog ... each yielding an owning reference").
package catalog

import (
	"sync"

	"github.com/google/btree"
	nlrm "github.com/launix-de/NonLockingReadMap"
)

// Keyed is the minimal contract NonLockingReadMap's generic constraint
// requires of a catalog entry.
type Keyed interface {
	GetKey() uint32
	ComputeSize() uint
}

// Named additionally exposes the series name the ordered index sorts on.
type Named interface {
	Keyed
	GetName() string
}

type nameEntry[T Named] struct {
	name  string
	value T
}

// Store holds both indexes for one database's live series, plus the
// dropped-id set read from .dropped at load time
// (spec.md §4.6 step 1-2).
type Store[T Named] struct {
	byID   nlrm.NonLockingReadMap[T, uint32]
	nameMu sync.Mutex
	byName *btree.BTreeG[nameEntry[T]]

	mu      sync.Mutex
	dropped map[uint32]struct{}
}

func New[T Named]() *Store[T] {
	return &Store[T]{
		byID: nlrm.New[T, uint32](),
		byName: btree.NewG(32, func(a, b nameEntry[T]) bool {
			return a.name < b.name
		}),
		dropped: make(map[uint32]struct{}),
	}
}

// Insert adds or replaces v in both indexes (spec.md §4.6 step 5: "Insert
// into name→series trie and id→series int-map").
func (s *Store[T]) Insert(v T) {
	s.byID.Set(&v)
	s.nameMu.Lock()
	s.byName.ReplaceOrInsert(nameEntry[T]{name: v.GetName(), value: v})
	s.nameMu.Unlock()
}

// ByID looks up a series by its numeric id.
func (s *Store[T]) ByID(id uint32) (T, bool) {
	p := s.byID.Get(id)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// ByName looks up a series by name.
func (s *Store[T]) ByName(name string) (T, bool) {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	item, ok := s.byName.Get(nameEntry[T]{name: name})
	if !ok {
		var zero T
		return zero, false
	}
	return item.value, true
}

// Remove deletes v (identified by id and name) from both indexes. Actual
// point data removal happens lazily during shard optimization (spec.md §3
// "Lifecycle"); this only removes the catalog's references.
func (s *Store[T]) Remove(id uint32, name string) {
	s.byID.Remove(id)
	s.nameMu.Lock()
	s.byName.Delete(nameEntry[T]{name: name})
	s.nameMu.Unlock()
}

// MarkDropped records id in the in-memory dropped set, mirroring the
// .dropped file's role (spec.md §4.6 step 1/5).
func (s *Store[T]) MarkDropped(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[id] = struct{}{}
}

// IsDropped reports whether id was recorded as dropped — consulted while
// replaying series.dat at load so dropped ids are skipped.
func (s *Store[T]) IsDropped(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dropped[id]
	return ok
}

// WalkByName visits every series in lexicographic name order, stopping
// early if fn returns false — the typed replacement for ct_walk
// (spec.md §4.7, §9 DESIGN NOTES).
func (s *Store[T]) WalkByName(fn func(T) bool) {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	s.byName.Ascend(func(e nameEntry[T]) bool {
		return fn(e.value)
	})
}

// WalkByID visits every series in ascending numeric id order, stopping
// early if fn returns false — the typed replacement for imap32_walk.
func (s *Store[T]) WalkByID(fn func(T) bool) {
	for _, p := range s.byID.GetAll() {
		if !fn(*p) {
			return
		}
	}
}

// Len reports the number of live (non-dropped) catalog entries.
func (s *Store[T]) Len() int {
	return len(s.byID.GetAll())
}
