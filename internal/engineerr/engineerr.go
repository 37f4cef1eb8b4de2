// Package engineerr models the resource-class error latch described in
// spec.md §7 and §9 DESIGN NOTES: the C implementation's process-wide
// siri_err/ERR_ALLOC/ERR_FILE global becomes an engine-scoped Flag value
// threaded explicitly through the call chain instead of a package-level
// variable, so tests can assert it without fighting global state.
package engineerr

import "sync/atomic"

// Kind enumerates the resource-class error states. Validation errors
// (series/user naming) are NOT represented here; they are returned as plain
// errors per spec.md §7 ("positive return codes with human-readable
// messages; not fatal").
type Kind int32

const (
	None Kind = iota
	Alloc
	File
)

func (k Kind) String() string {
	switch k {
	case Alloc:
		return "ALLOC"
	case File:
		return "FILE"
	default:
		return "NONE"
	}
}

// Flag is an engine-scoped latch: once set to a non-None kind, the engine
// refuses further mutating operations until restart (spec.md §7). It is
// safe for concurrent use, though per spec.md §5 the storage core itself is
// single-threaded; RPC callbacks may still read it from another goroutine.
type Flag struct {
	v atomic.Int32
}

// Set raises the flag to kind. Once raised past None it is never cleared by
// Set itself; only an explicit Clear (used by tests) resets it.
func (f *Flag) Set(kind Kind) {
	if kind == None {
		return
	}
	f.v.Store(int32(kind))
}

// Get returns the current latch state.
func (f *Flag) Get() Kind {
	return Kind(f.v.Load())
}

// IsSet reports whether any resource-class error has latched.
func (f *Flag) IsSet() bool {
	return f.Get() != None
}

// Clear resets the flag. Intended for tests asserting invariants across a
// simulated restart; production code has no legitimate reason to clear a
// latched engine error short of process restart.
func (f *Flag) Clear() {
	f.v.Store(int32(None))
}
