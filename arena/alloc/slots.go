package alloc

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// A slot page is one page owned by a single size class:
//
//	0x00  bitmap  [BitmapWords]uint32  bit i set = slot i allocated
//	0x20  slot 0
//	      slot 1 ...
//
// Free slots sit on their class list with the same prev/next node layout as
// free runs. A page goes back to the run lists as soon as its bitmap is zero.

func bitPos(page Offset, idx int) (word int, mask uint32) {
	return int(page) + 4*(idx/32), 1 << (idx % 32)
}

// allocSlot pops the head of the class list, or carves a fresh page.
func (a *Allocator) allocSlot(head int, rec uint32) (Offset, error) {
	if off := a.get(head); off != NullOffset {
		idx, _ := format.SlotIndex(off, rec)
		word, mask := bitPos(format.PageStart(off), idx)
		a.put(word, a.get(word)|mask)
		a.unlinkNode(head, off)
		return off, nil
	}

	page, err := a.AllocPages(1)
	if err != nil {
		return NullOffset, err
	}
	a.setSizeInfo(format.PageOf(page), rec)

	clear(a.data()[page : page+format.SlotPageHeaderSize])
	format.PutU32(a.data(), int(page), 1)
	a.markDirty(int(page), format.SlotPageHeaderSize)

	// Slots 1..n-1 become the class list, in address order.
	n := format.SlotCount(rec)
	prev := NullOffset
	for i := 1; i < n; i++ {
		off := format.SlotOffset(page, i, rec)
		next := NullOffset
		if i+1 < n {
			next = format.SlotOffset(page, i+1, rec)
		}
		a.put(int(off), prev)
		a.put(int(off)+4, next)
		prev = off
	}
	if n > 1 {
		a.put(head, format.SlotOffset(page, 1, rec))
	}

	a.stats.SlotPagesCreated++
	logger.Debug("slot page created", "page", page, "size", rec, "slots", n)
	return format.SlotOffset(page, 0, rec), nil
}

// freeSlot clears the slot's bit, pushes it on its class list, and returns
// the page when the bitmap becomes empty.
func (a *Allocator) freeSlot(off Offset, head int, rec uint32) error {
	page := format.PageStart(off)
	idx, _ := format.SlotIndex(off, rec)
	word, mask := bitPos(page, idx)

	w := a.get(word)
	if w&mask == 0 {
		return a.doubleFree(off)
	}
	w &^= mask
	a.put(word, w)
	a.pushNode(head, off)

	if w != 0 || a.slotsInUse(page) != 0 {
		return nil
	}

	for i := range format.SlotCount(rec) {
		a.unlinkNode(head, format.SlotOffset(page, i, rec))
	}
	a.setSizeInfo(format.PageOf(page), 0)
	if err := a.ReleasePages(page, 1); err != nil {
		return fmt.Errorf("alloc: release slot page 0x%x: %w", page, err)
	}
	a.stats.SlotPagesReleased++
	logger.Debug("slot page released", "page", page, "size", rec)
	return nil
}

// slotsInUse counts the set bits of a slot page bitmap.
func (a *Allocator) slotsInUse(page Offset) int {
	n := 0
	for i := range format.BitmapWords {
		n += bits.OnesCount32(a.get(int(page) + 4*i))
	}
	return n
}

// slotLive reports whether the block at off is allocated. Large blocks are
// live whenever their pages carry a record.
func (a *Allocator) slotLive(off Offset, rec uint32) bool {
	if _, ok := a.layout.SlotHeadOffset(rec); !ok {
		return true
	}
	idx, _ := format.SlotIndex(off, rec)
	word, mask := bitPos(format.PageStart(off), idx)
	return a.get(word)&mask != 0
}
