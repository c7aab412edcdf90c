package alloc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace indicates the arena could not supply the pages for a request.
	// Existing allocations are unaffected.
	ErrNoSpace = errors.New("alloc: no space")

	// ErrTooLarge indicates a request longer than the longest page run. It
	// matches ErrNoSpace under errors.Is.
	ErrTooLarge = fmt.Errorf("%w: request exceeds the longest page run", ErrNoSpace)

	// ErrBadSize indicates a negative size, a run length out of range, or a
	// count*size overflow.
	ErrBadSize = errors.New("alloc: bad size")

	// ErrBadOffset indicates an offset that cannot be the start of a block.
	ErrBadOffset = errors.New("alloc: bad offset")

	// ErrDoubleFree indicates release of a block that is already free. Only
	// returned with WithStrictFree.
	ErrDoubleFree = errors.New("alloc: block already free")

	// ErrCorrupt indicates a free list that does not terminate.
	ErrCorrupt = errors.New("alloc: corrupt free list")
)
