package alloc

import (
	"fmt"

	"github.com/joshuapare/arenakit/internal/format"
)

// ClassUsage describes the slot pages of one size class.
type ClassUsage struct {
	Size      int // recorded slot size
	Pages     int
	LiveSlots int
	FreeSlots int
}

// Usage is a point-in-time breakdown of every committed page.
type Usage struct {
	Capacity    int64
	Top         int64
	HeaderPages int

	// FreeRuns maps run length in pages to the number of runs on that list.
	FreeRuns  map[int]int
	FreePages int

	// Classes is keyed by recorded slot size.
	Classes map[int]ClassUsage

	LargeBlocks int
	LargePages  int

	// OtherPages are committed pages on no list and with no size record,
	// such as runs held through AllocPages.
	OtherPages int
}

// SlotPages totals the pages of every class.
func (u Usage) SlotPages() int {
	n := 0
	for _, c := range u.Classes {
		n += c.Pages
	}
	return n
}

// UsedBytes is the committed space minus free runs and free slots.
func (u Usage) UsedBytes() int64 {
	used := u.Top - int64(u.FreePages)*format.PageSize
	for size, c := range u.Classes {
		used -= int64(c.FreeSlots) * int64(size)
	}
	return used
}

// Usage walks the run lists and the size table. Cost is linear in the
// number of committed pages.
func (a *Allocator) Usage() (Usage, error) {
	top := int(a.top())
	u := Usage{
		Capacity:    a.layout.Capacity(),
		Top:         int64(top),
		HeaderPages: a.layout.HeaderSize / format.PageSize,
		FreeRuns:    make(map[int]int),
		Classes:     make(map[int]ClassUsage),
	}

	runs, err := a.FreeRuns()
	if err != nil {
		return u, err
	}
	for _, r := range runs {
		u.FreeRuns[r.Pages]++
		u.FreePages += r.Pages
	}

	topPage := format.PagesFor(top)
	for p := u.HeaderPages; p < topPage; {
		rec := a.sizeInfo(p)
		switch {
		case rec == 0:
			p++
		case a.isSlotSize(rec):
			c := u.Classes[int(rec)]
			c.Size = int(rec)
			c.Pages++
			live := a.slotsInUse(uint32(p * format.PageSize))
			c.LiveSlots += live
			c.FreeSlots += format.SlotCount(rec) - live
			u.Classes[int(rec)] = c
			p++
		default:
			n := int(rec / format.PageSize)
			if n < 1 || rec%format.PageSize != 0 {
				return u, fmt.Errorf("%w: page %d records %d bytes", ErrCorrupt, p, rec)
			}
			u.LargeBlocks++
			u.LargePages += n
			p += n
		}
	}

	u.OtherPages = topPage - u.HeaderPages - u.FreePages - u.SlotPages() - u.LargePages
	return u, nil
}

func (a *Allocator) isSlotSize(rec uint32) bool {
	_, ok := a.layout.SlotHeadOffset(rec)
	return ok
}
