package arena

import (
	"fmt"
	"os"
	"time"

	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// Offset is a byte offset from the arena base.
type Offset = uint32

// NullOffset is the "no link" sentinel.
const NullOffset Offset = format.NullOffset

// Arena is an opened arena, backed by mmap (unix/darwin), a byte slice read
// from the file (others), or plain memory (NewMemory).
//
// The slice returned by Bytes is replaced whenever the arena grows; callers
// must re-fetch it after any call that may grow.
type Arena struct {
	f    *os.File
	path string
	data []byte
	size int64

	mapped    bool
	layout    format.Layout
	growChunk int64
	lockDepth int
}

func (a *Arena) Bytes() []byte { return a.data }

// Size is the current length of the backing region, which may exceed Top.
func (a *Arena) Size() int64 { return a.size }

func (a *Arena) Path() string { return a.path }

// FD returns the backing file descriptor, or -1 for memory arenas.
func (a *Arena) FD() int {
	if a == nil || a.f == nil {
		return -1
	}
	return int(a.f.Fd())
}

// Mapped reports whether Bytes is a shared mapping of the backing file.
func (a *Arena) Mapped() bool { return a.mapped }

func (a *Arena) Layout() format.Layout { return a.layout }

// Top is the commit high-water mark: every byte below it belongs to the header
// or to a page handed out by Grow.
func (a *Arena) Top() Offset {
	if a.data == nil {
		return 0
	}
	return format.ReadU32(a.data, format.TopOffset)
}

// Capacity is the largest value Top may reach.
func (a *Arena) Capacity() int64 { return a.layout.Capacity() }

func (a *Arena) Flags() uint32 {
	if a.data == nil {
		return 0
	}
	return format.ReadU32(a.data, format.FlagsOffset)
}

// SetFlags ORs f into the header flags.
func (a *Arena) SetFlags(f uint32) {
	if a.data == nil {
		return
	}
	format.PutU32(a.data, format.FlagsOffset, a.Flags()|f)
}

// ClearFlags removes f from the header flags.
func (a *Arena) ClearFlags(f uint32) {
	if a.data == nil {
		return
	}
	format.PutU32(a.data, format.FlagsOffset, a.Flags()&^f)
}

// Sequences returns the primary and secondary sequence numbers.
func (a *Arena) Sequences() (primary, secondary uint32) {
	if a.data == nil {
		return 0, 0
	}
	return format.ReadU32(a.data, format.PrimarySeqOffset), format.ReadU32(a.data, format.SecondarySeqOffset)
}

// IsClean reports whether the last transaction completed (primary == secondary).
func (a *Arena) IsClean() bool {
	p, s := a.Sequences()
	return p == s
}

func (a *Arena) Creator() string {
	if a.data == nil {
		return ""
	}
	return format.Creator(a.data)
}

// Changed returns the last change time recorded in the header.
func (a *Arena) Changed() time.Time {
	if a.data == nil {
		return time.Time{}
	}
	return time.Unix(0, int64(format.ReadU64(a.data, format.ChangedOffset)))
}

// Touch records now as the last change time.
func (a *Arena) Touch(now time.Time) {
	if a.data == nil {
		return
	}
	format.PutU64(a.data, format.ChangedOffset, uint64(now.UnixNano()))
}

// Grow commits n more bytes at the top of the arena and returns the offset of
// the first new byte (the previous top). n must be a positive multiple of the
// page size. The backing region is extended in GrowChunk steps, so Bytes must
// be re-fetched after a successful call. On failure top is unchanged.
func (a *Arena) Grow(n int) (Offset, error) {
	if a == nil || a.data == nil {
		return NullOffset, ErrClosed
	}
	if n <= 0 || n%format.PageSize != 0 {
		return NullOffset, fmt.Errorf("%w: %d", ErrGrowAlign, n)
	}

	top := int64(a.Top())
	newTop := top + int64(n)
	if newTop > a.Capacity() {
		a.SetFlags(format.FlagNoMem)
		logger.Warn("arena growth refused", "top", top, "grow", n, "capacity", a.Capacity())
		return NullOffset, fmt.Errorf("%w: top 0x%x + %d > 0x%x", ErrCapacity, top, n, a.Capacity())
	}

	if newTop > a.size {
		newSize := min(format.AlignUp64(newTop, a.growChunk), a.Capacity())
		if err := a.resize(newSize); err != nil {
			return NullOffset, err
		}
		logger.Debug("arena extended", "size", newSize, "top", newTop)
	}

	format.PutU32(a.data, format.TopOffset, uint32(newTop))
	return Offset(top), nil
}

// initialSize is the region length a new arena starts with: the header plus
// one growth chunk's worth of slack, clamped to capacity.
func initialSize(l format.Layout, growChunk int64) int64 {
	return min(format.AlignUp64(int64(l.HeaderSize), growChunk), l.Capacity())
}

// NewMemory creates an arena backed by process memory. Growth reallocates and
// copies the region, so Bytes changes on every extension. Lock only counts
// depth.
func NewMemory(opts *Options) (*Arena, error) {
	o, l, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	size := initialSize(l, o.GrowChunk)
	a := &Arena{
		data:      make([]byte, size),
		size:      size,
		layout:    l,
		growChunk: o.GrowChunk,
	}
	format.WriteHeader(a.data, l, o.Creator, time.Now())
	return a, nil
}

// resizeMemory replaces the region with a zero-extended copy.
func (a *Arena) resizeMemory(newSize int64) {
	data := make([]byte, newSize)
	copy(data, a.data)
	a.data = data
	a.size = newSize
}
