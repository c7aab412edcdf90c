package arena

import "errors"

var (
	// ErrBadHeader indicates an image whose control header cannot be trusted.
	ErrBadHeader = errors.New("arena: bad header")

	// ErrCapacity indicates growth would move top past the arena capacity.
	ErrCapacity = errors.New("arena: capacity exceeded")

	// ErrGrowAlign indicates a growth request that is not a positive multiple of the page size.
	ErrGrowAlign = errors.New("arena: growth must be a positive multiple of the page size")

	// ErrClosed indicates use of an arena after Close.
	ErrClosed = errors.New("arena: closed")

	// ErrOutOfRange indicates an offset or length outside the mapped region.
	ErrOutOfRange = errors.New("arena: offset out of range")

	// ErrNotLocked indicates Unlock without a matching Lock.
	ErrNotLocked = errors.New("arena: not locked")
)
