package alloc

import (
	"fmt"

	"github.com/joshuapare/arenakit/internal/buf"
	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// maxRequest bounds any single request; offsets are uint32.
const maxRequest = int64(format.MaxPageCount) * format.PageSize

// Allocator serves offset-addressed blocks from a Region. All of its state
// lives in the region's header tables and free nodes; the struct only caches
// the layout.
//
// NOT thread-safe. Callers serialize every call (see arena/tx).
type Allocator struct {
	r      Region
	dt     DirtyTracker
	layout format.Layout

	strict bool
	onGrow func(n int)
	stats  Stats
}

// New attaches an allocator to r, reading the geometry from its header.
//
// Parameters:
//   - r: the region to allocate from
//   - dt: dirty tracker notified of every write (can be nil)
//   - opts: WithStrictFree, WithGrowHook
func New(r Region, dt DirtyTracker, opts ...Option) (*Allocator, error) {
	l, err := format.ReadLayout(r.Bytes())
	if err != nil {
		return nil, fmt.Errorf("alloc: read layout: %w", err)
	}
	a := &Allocator{r: r, dt: dt, layout: l}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Layout returns the geometry read at New.
func (a *Allocator) Layout() format.Layout { return a.layout }

// Stats returns a copy of the counters.
func (a *Allocator) Stats() Stats { return a.stats }

// Initialize resets every run, pow2 and known list head to NullOffset. Pages
// below top that were on those lists are leaked; callers use it on a fresh
// arena.
func (a *Allocator) Initialize() {
	format.ResetListHeads(a.data(), a.layout)
	a.markDirty(a.layout.RunHeads, a.layout.SizeTable-a.layout.RunHeads)
}

// Alloc returns a block of at least size bytes. The slice has len == size and
// cap == the block's recorded size; it aliases the arena and is invalidated
// by any later call that grows it. Size 0 yields a minimum slot.
func (a *Allocator) Alloc(size int) (Offset, []byte, error) {
	a.stats.AllocCalls++
	if size < 0 {
		return NullOffset, nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}

	if rec, head, ok := a.slotClass(size); ok {
		off, err := a.allocSlot(head, rec)
		if err != nil {
			return NullOffset, nil, err
		}
		a.stats.SlotAllocs++
		return off, a.data()[off : int(off)+size : int(off)+int(rec)], nil
	}

	pages := (int64(size) + format.PageMask) >> format.PageShift
	if pages > int64(a.layout.MaxRun) {
		a.stats.NoSpace++
		return NullOffset, nil, fmt.Errorf("%w: %d bytes needs %d pages, max %d", ErrTooLarge, size, pages, a.layout.MaxRun)
	}
	n := int(pages)
	off, err := a.AllocPages(n)
	if err != nil {
		return NullOffset, nil, err
	}
	rec := uint32(n * format.PageSize)
	for p := range n {
		a.setSizeInfo(format.PageOf(off)+p, rec)
	}
	a.stats.LargeAllocs++
	return off, a.data()[off : int(off)+size : int(off)+int(rec)], nil
}

// Free releases the block starting at off. Freeing NullOffset is a no-op.
// Releasing a block that is already free is ignored unless WithStrictFree is
// set.
func (a *Allocator) Free(off Offset) error {
	a.stats.FreeCalls++
	if off == NullOffset {
		return nil
	}
	rec, err := a.recordAt(off)
	if err != nil {
		return err
	}
	if rec == 0 {
		return a.doubleFree(off)
	}

	if head, ok := a.layout.SlotHeadOffset(rec); ok {
		return a.freeSlot(off, head, rec)
	}

	if off&format.PageMask != 0 || rec%format.PageSize != 0 {
		return fmt.Errorf("%w: 0x%x is not the start of a %d byte block", ErrBadOffset, off, rec)
	}
	n := int(rec / format.PageSize)
	for p := range n {
		a.setSizeInfo(format.PageOf(off)+p, 0)
	}
	return a.ReleasePages(off, n)
}

// Realloc resizes the block at off. NullOffset behaves like Alloc. When size
// fits the recorded size the block stays in place; otherwise a new block is
// allocated, the old contents copied and the old block freed. On failure the
// old block is untouched and no new block is kept.
func (a *Allocator) Realloc(off Offset, size int) (Offset, []byte, error) {
	a.stats.ReallocCalls++
	if off == NullOffset {
		return a.Alloc(size)
	}
	if size < 0 {
		return NullOffset, nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	rec, err := a.liveRecord(off)
	if err != nil {
		return NullOffset, nil, err
	}
	if size <= int(rec) {
		return off, a.data()[off : int(off)+size : int(off)+int(rec)], nil
	}

	newOff, b, err := a.Alloc(size)
	if err != nil {
		return NullOffset, nil, err
	}
	data := a.data()
	copy(data[newOff:], data[off:off+rec])
	if err := a.Free(off); err != nil {
		if ferr := a.Free(newOff); ferr != nil {
			logger.Warn("realloc: block leaked", "off", newOff, "error", ferr)
		}
		return NullOffset, nil, fmt.Errorf("alloc: realloc release 0x%x: %w", off, err)
	}
	a.markDirty(int(newOff), int(rec))
	return newOff, b, nil
}

// Calloc allocates count*size zeroed bytes.
func (a *Allocator) Calloc(count, size int) (Offset, []byte, error) {
	n, ok := buf.MulOverflowSafe(count, size)
	if !ok || int64(n) > maxRequest {
		return NullOffset, nil, fmt.Errorf("%w: %d x %d", ErrBadSize, count, size)
	}
	off, b, err := a.Alloc(n)
	if err != nil {
		return NullOffset, nil, err
	}
	clear(b)
	a.markDirty(int(off), n)
	return off, b, nil
}

// Block returns the whole recorded block starting at off.
func (a *Allocator) Block(off Offset) ([]byte, error) {
	rec, err := a.liveRecord(off)
	if err != nil {
		return nil, err
	}
	end := int(off) + int(rec)
	return a.data()[off:end:end], nil
}

// SizeOf returns the recorded size of the block starting at off.
func (a *Allocator) SizeOf(off Offset) (int, error) {
	rec, err := a.liveRecord(off)
	return int(rec), err
}

// recordAt validates off cheaply and returns the size table record of its
// page. Zero means the page holds no block.
func (a *Allocator) recordAt(off Offset) (uint32, error) {
	if off < uint32(a.layout.HeaderSize) || off >= a.top() {
		return 0, fmt.Errorf("%w: 0x%x outside [0x%x, 0x%x)", ErrBadOffset, off, a.layout.HeaderSize, a.top())
	}
	rec := a.sizeInfo(format.PageOf(off))
	if _, ok := a.layout.SlotHeadOffset(rec); ok {
		if _, ok := format.SlotIndex(off, rec); !ok {
			return 0, fmt.Errorf("%w: 0x%x is not a %d byte slot", ErrBadOffset, off, rec)
		}
	} else if rec != 0 && off&format.PageMask != 0 {
		return 0, fmt.Errorf("%w: 0x%x is not the start of a %d byte block", ErrBadOffset, off, rec)
	}
	return rec, nil
}

// liveRecord is recordAt for a block that must be allocated.
func (a *Allocator) liveRecord(off Offset) (uint32, error) {
	rec, err := a.recordAt(off)
	if err != nil {
		return 0, err
	}
	if rec == 0 || !a.slotLive(off, rec) {
		return 0, fmt.Errorf("%w: 0x%x is not allocated", ErrBadOffset, off)
	}
	return rec, nil
}

func (a *Allocator) doubleFree(off Offset) error {
	a.stats.DoubleFrees++
	logger.Debug("free of free block", "off", off)
	if a.strict {
		return fmt.Errorf("%w: 0x%x", ErrDoubleFree, off)
	}
	return nil
}

// data re-fetches the region bytes; never cache the result across growth.
func (a *Allocator) data() []byte { return a.r.Bytes() }

func (a *Allocator) top() Offset {
	return format.ReadU32(a.data(), format.TopOffset)
}

func (a *Allocator) get(off int) uint32 {
	return format.ReadU32(a.data(), off)
}

// put writes v at off and marks the word dirty.
func (a *Allocator) put(off int, v uint32) {
	format.PutU32(a.data(), off, v)
	a.markDirty(off, 4)
}

func (a *Allocator) markDirty(off, n int) {
	if a.dt != nil {
		a.dt.Add(off, n)
	}
}

func (a *Allocator) sizeInfo(page int) uint32 {
	return a.get(a.layout.SizeInfoOffset(page))
}

func (a *Allocator) setSizeInfo(page int, rec uint32) {
	a.put(a.layout.SizeInfoOffset(page), rec)
}
