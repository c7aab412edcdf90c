package alloc

import (
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/internal/format"
)

// Offset is a byte offset from the arena base.
type Offset = uint32

// NullOffset is the "no block" sentinel.
const NullOffset Offset = format.NullOffset

// Region is the growable byte range the allocator manages. *arena.Arena
// implements it.
//
// Grow commits n more bytes (a positive multiple of the page size) at the top
// and returns the offset of the first new byte. The slice returned by Bytes
// may change after Grow; the allocator re-fetches it.
type Region interface {
	Bytes() []byte
	Grow(n int) (Offset, error)
}

// DirtyTracker is an alias of the canonical interface in arena/dirty.
type DirtyTracker = dirty.DirtyTracker

// Option configures an Allocator.
type Option func(*Allocator)

// WithStrictFree makes Free report ErrDoubleFree instead of ignoring the
// release of a block that is already free.
func WithStrictFree() Option {
	return func(a *Allocator) { a.strict = true }
}

// WithGrowHook installs fn, called with the byte count before every growth
// request.
func WithGrowHook(fn func(n int)) Option {
	return func(a *Allocator) { a.onGrow = fn }
}

// Stats holds per-process allocator counters. They are not persisted.
type Stats struct {
	AllocCalls   int
	FreeCalls    int
	ReallocCalls int

	SlotAllocs  int // Alloc served from a slot list
	LargeAllocs int // Alloc served by a page run

	SlotPagesCreated  int
	SlotPagesReleased int

	PageAllocs   int // runs handed out by AllocPages, including growth
	PageReleases int
	RunSplits    int // runs split to serve a shorter request

	GrowCalls int
	GrowBytes int64

	DoubleFrees int // releases of already free blocks
	NoSpace     int // requests failed with ErrNoSpace
	RunsMerged  int // merges performed by CoalesceFreeRuns
}
