package alloc

import (
	"math/bits"

	"github.com/joshuapare/arenakit/internal/format"
)

// LargeClass is the class ClassifySize returns for requests served by page
// runs instead of slots.
const LargeClass = format.Pow2ClassCount

// ClassifySize maps a request to its power-of-two class and recorded size.
//
// Slot requests (size <= SlotMaxSize) get class idx with recorded size
// 4<<idx, the smallest power of two that is >= max(size, SlotMinSize):
//
//	size  0..16  -> class 2, 16 bytes
//	size 17..32  -> class 3, 32 bytes
//	...
//	size 513..1024 -> class 8, 1024 bytes
//
// Larger requests get LargeClass and the size rounded up to whole pages.
func ClassifySize(size int) (class, recorded int) {
	if size > format.SlotMaxSize {
		return LargeClass, format.AlignPage(size)
	}
	mask := uint32(max(size, format.SlotMinSize) - 1)
	b := bits.Len32(mask) - 1
	class = max(b-1, 0)
	return class, 4 << class
}

// knownSize returns the known class serving size, when the arena has known
// classes and the chosen class is not itself a power of two.
func knownSize(l format.Layout, size int) (uint32, bool) {
	base := int(l.KnownBase)
	if base == 0 || size < base || size > base+format.KnownClassStep*(format.KnownClassCount-1) {
		return 0, false
	}
	rec := uint32(base)
	switch {
	case size > base+format.KnownClassStep:
		rec += 2 * format.KnownClassStep
	case size > base:
		rec += format.KnownClassStep
	}
	if format.IsPow2(rec) {
		return 0, false
	}
	return rec, true
}

// slotClass returns the recorded size and list head for a slot request, or
// false when size is served by page runs.
func (a *Allocator) slotClass(size int) (recorded uint32, head int, ok bool) {
	if size > format.SlotMaxSize {
		return 0, 0, false
	}
	if rec, ok := knownSize(a.layout, size); ok {
		head, _ := a.layout.SlotHeadOffset(rec)
		return rec, head, true
	}
	_, r := ClassifySize(size)
	head, _ = a.layout.SlotHeadOffset(uint32(r))
	return uint32(r), head, true
}
