package dirty

import "context"

// DirtyTracker is the minimal interface for reporting modified byte ranges.
// The allocator only needs this.
type DirtyTracker interface {
	// Add marks [off, off+length) as dirty.
	Add(off, length int)
}

// FlushableTracker extends DirtyTracker with the ordered flush used by the
// transaction manager.
type FlushableTracker interface {
	DirtyTracker

	// FlushDataOnly flushes dirty ranges outside the header.
	FlushDataOnly(ctx context.Context) error

	// FlushHeaderAndMeta flushes the header pages and syncs per mode.
	FlushHeaderAndMeta(ctx context.Context, mode FlushMode) error

	// Reset forgets all ranges.
	Reset()
}

// Region is what a Tracker flushes. *arena.Arena implements it.
type Region interface {
	Bytes() []byte
	FD() int
	Mapped() bool
	Sync() error
}

var _ FlushableTracker = (*Tracker)(nil)
