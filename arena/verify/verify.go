package verify

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/joshuapare/arenakit/internal/format"
)

// ValidationError describes one violated invariant.
type ValidationError struct {
	Type    string
	Message string
	Offset  int
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%X: %s", e.Type, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func fail(typ string, off int, msg string, args ...any) *ValidationError {
	return &ValidationError{Type: typ, Message: fmt.Sprintf(msg, args...), Offset: off}
}

// AllInvariants runs every check. A bad header stops early; otherwise all
// failures are joined.
func AllInvariants(data []byte) error {
	if err := Header(data); err != nil {
		return err
	}
	return errors.Join(SequenceNumbers(data), structure(data))
}

// Structure is AllInvariants without SequenceNumbers, for checking an arena
// while a transaction is open.
func Structure(data []byte) error {
	if err := Header(data); err != nil {
		return err
	}
	return structure(data)
}

func structure(data []byte) error {
	return errors.Join(
		FreeRuns(data),
		SlotLists(data),
		PageAccounting(data),
	)
}

// image is a header-validated view of an arena.
type image struct {
	data    []byte
	l       format.Layout
	top     int
	topPage int
}

func (im *image) u32(off int) uint32 { return format.ReadU32(im.data, off) }

func (im *image) record(page int) uint32 { return im.u32(im.l.SizeInfoOffset(page)) }

func (im *image) isSlotSize(rec uint32) bool {
	_, ok := im.l.SlotHeadOffset(rec)
	return ok
}

func load(data []byte) (*image, error) {
	if err := Header(data); err != nil {
		return nil, err
	}
	l, _ := format.ReadLayout(data)
	top := int(format.ReadU32(data, format.TopOffset))
	return &image{data: data, l: l, top: top, topPage: top / format.PageSize}, nil
}

// Header validates the control header and its geometry against len(data).
func Header(data []byte) error {
	const typ = "Header"
	if len(data) < format.TablesOffset {
		return fail(typ, -1, "image too small: %d bytes (need %d)", len(data), format.TablesOffset)
	}
	if !bytes.Equal(data[format.MagicOffset:format.MagicOffset+4], format.Magic) {
		return fail(typ, format.MagicOffset, "invalid signature: got %q, expected %q", data[:4], format.Magic)
	}
	if data[format.EndianOffset] != format.EndianLittle {
		return fail(typ, format.EndianOffset, "unsupported byte order marker 0x%02X", data[format.EndianOffset])
	}
	if v := data[format.MajorOffset]; v != format.MajorVersion {
		return fail(typ, format.MajorOffset, "unexpected major version: %d (expected %d)", v, format.MajorVersion)
	}

	l, err := format.ReadLayout(data)
	if err != nil {
		return fail(typ, format.HeaderSizeOffset, "geometry: %v", err)
	}
	if c := int64(format.ReadU32(data, format.CapacityOffset)); c != l.Capacity() {
		return fail(typ, format.CapacityOffset, "capacity 0x%X does not match %d pages", c, l.PageCount)
	}

	top := int64(format.ReadU32(data, format.TopOffset))
	switch {
	case top%format.PageSize != 0:
		return fail(typ, format.TopOffset, "top not page aligned: 0x%X", top)
	case top < int64(l.HeaderSize):
		return fail(typ, format.TopOffset, "top 0x%X inside header (0x%X)", top, l.HeaderSize)
	case top > l.Capacity():
		return fail(typ, format.TopOffset, "top 0x%X beyond capacity 0x%X", top, l.Capacity())
	case top > int64(len(data)):
		return &ValidationError{
			Type:    typ,
			Message: fmt.Sprintf("top 0x%X beyond end of image 0x%X", top, len(data)),
			Offset:  format.TopOffset,
			Details: map[string]any{"top": top, "size": len(data)},
		}
	}
	return nil
}

// SequenceNumbers checks primary == secondary.
func SequenceNumbers(data []byte) error {
	if len(data) < format.TablesOffset {
		return fail("SequenceNumbers", -1, "image too small for header")
	}
	p := format.ReadU32(data, format.PrimarySeqOffset)
	s := format.ReadU32(data, format.SecondarySeqOffset)
	if p != s {
		return &ValidationError{
			Type:    "SequenceNumbers",
			Message: fmt.Sprintf("sequences mismatch (interrupted transaction): primary=0x%X, secondary=0x%X", p, s),
			Offset:  format.PrimarySeqOffset,
			Details: map[string]any{"primary": p, "secondary": s},
		}
	}
	return nil
}

// walkList follows next links from the head at headOff, checking each
// node's prev link and bounds, and calls fn with each node.
func (im *image) walkList(typ string, headOff int, fn func(off uint32) error) error {
	prev := format.NullOffset
	limit := im.topPage * (format.PageSize / format.SlotMinSize)
	n := 0
	for off := im.u32(headOff); off != format.NullOffset; off = im.u32(int(off) + 4) {
		if n++; n > limit {
			return fail(typ, headOff, "list does not terminate after %d nodes", limit)
		}
		if int(off) < im.l.HeaderSize || int(off)+format.LinkSize > im.top {
			return fail(typ, int(off), "node outside [0x%X, 0x%X) on list at 0x%X", im.l.HeaderSize, im.top, headOff)
		}
		if p := im.u32(int(off)); p != prev {
			return &ValidationError{
				Type:    typ,
				Message: fmt.Sprintf("prev link 0x%X, expected 0x%X", p, prev),
				Offset:  int(off),
				Details: map[string]any{"list": headOff},
			}
		}
		if err := fn(off); err != nil {
			return err
		}
		prev = off
	}
	return nil
}

// freePages maps each page on a run list to its run start. It fails on the
// first structural problem.
func (im *image) freePages() (map[int]uint32, error) {
	const typ = "FreeRuns"
	owner := make(map[int]uint32)
	for k := 1; k <= im.l.MaxRun; k++ {
		err := im.walkList(typ, im.l.RunHeadOffset(k), func(off uint32) error {
			if off&format.PageMask != 0 {
				return fail(typ, int(off), "run not page aligned")
			}
			first := format.PageOf(off)
			if first+k > im.topPage {
				return fail(typ, int(off), "%d-page run extends past top 0x%X", k, im.top)
			}
			for p := first; p < first+k; p++ {
				if other, dup := owner[p]; dup {
					return fail(typ, int(off), "page %d already in run at 0x%X", p, other)
				}
				if rec := im.record(p); rec != 0 {
					return fail(typ, int(off), "free page %d records %d bytes", p, rec)
				}
				owner[p] = off
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return owner, nil
}

// FreeRuns validates every page-run free list.
func FreeRuns(data []byte) error {
	im, err := load(data)
	if err != nil {
		return err
	}
	_, err = im.freePages()
	return err
}

// slotSizes lists the recorded sizes that have a class list in this layout.
func (im *image) slotSizes() []uint32 {
	var sizes []uint32
	for idx := 2; idx < format.Pow2ClassCount; idx++ {
		sizes = append(sizes, 4<<idx)
	}
	if im.l.KnownBase != 0 {
		for i := range format.KnownClassCount {
			rec := im.l.KnownBase + uint32(i*format.KnownClassStep)
			if !format.IsPow2(rec) {
				sizes = append(sizes, rec)
			}
		}
	}
	return sizes
}

// slotFreeCounts walks every class list and returns free slots per page.
func (im *image) slotFreeCounts() (map[int]int, error) {
	const typ = "SlotLists"
	perPage := make(map[int]int)
	seen := make(map[uint32]bool)
	for _, rec := range im.slotSizes() {
		head, _ := im.l.SlotHeadOffset(rec)
		err := im.walkList(typ, head, func(off uint32) error {
			page := format.PageOf(off)
			if got := im.record(page); got != rec {
				return fail(typ, int(off), "slot on %d byte list lives on page recording %d", rec, got)
			}
			idx, ok := format.SlotIndex(off, rec)
			if !ok {
				return fail(typ, int(off), "not on a %d byte slot boundary", rec)
			}
			if seen[off] {
				return fail(typ, int(off), "slot listed twice")
			}
			seen[off] = true
			word := int(format.PageStart(off)) + 4*(idx/32)
			if im.u32(word)&(1<<(idx%32)) != 0 {
				return fail(typ, int(off), "free slot %d marked allocated in bitmap", idx)
			}
			perPage[page]++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return perPage, nil
}

// SlotLists validates every size-class free list.
func SlotLists(data []byte) error {
	im, err := load(data)
	if err != nil {
		return err
	}
	_, err = im.slotFreeCounts()
	return err
}

// PageAccounting walks the committed pages and checks that each is owned
// once: by a free run, a slot page, a large block, or (with no record and on
// no list) by a caller of AllocPages.
func PageAccounting(data []byte) error {
	const typ = "PageAccounting"
	im, err := load(data)
	if err != nil {
		return err
	}
	free, err := im.freePages()
	if err != nil {
		return err
	}
	slotFree, err := im.slotFreeCounts()
	if err != nil {
		return err
	}

	var errs []error
	for p := 0; p < im.l.HeaderSize/format.PageSize; p++ {
		if rec := im.record(p); rec != 0 {
			errs = append(errs, fail(typ, im.l.SizeInfoOffset(p), "header page %d records %d bytes", p, rec))
		}
	}
	for p := im.topPage; p < im.l.PageCount; p++ {
		if rec := im.record(p); rec != 0 {
			errs = append(errs, fail(typ, im.l.SizeInfoOffset(p), "page %d above top records %d bytes", p, rec))
		}
	}

	for p := im.l.HeaderSize / format.PageSize; p < im.topPage; {
		rec := im.record(p)
		pageOff := p * format.PageSize
		switch {
		case rec == 0:
			p++

		case im.isSlotSize(rec):
			if _, ok := free[p]; ok {
				errs = append(errs, fail(typ, pageOff, "slot page is also on a run list"))
			}
			n := format.SlotCount(rec)
			used := 0
			for w := range format.BitmapWords {
				word := im.u32(pageOff + 4*w)
				if hi := (w + 1) * 32; hi > n {
					var valid uint32
					if lo := w * 32; n > lo {
						valid = 1<<(n-lo) - 1
					}
					if word&^valid != 0 {
						errs = append(errs, fail(typ, pageOff+4*w, "bitmap marks slots past %d", n))
					}
				}
				used += bits.OnesCount32(word)
			}
			switch {
			case used == 0:
				errs = append(errs, fail(typ, pageOff, "empty %d byte slot page was not released", rec))
			case slotFree[p] != n-used:
				errs = append(errs, &ValidationError{
					Type:    typ,
					Message: fmt.Sprintf("%d byte slot page: %d free slots listed, bitmap says %d", rec, slotFree[p], n-used),
					Offset:  pageOff,
					Details: map[string]any{"size": rec, "used": used, "listed": slotFree[p]},
				})
			}
			p++

		default:
			n := int(rec / format.PageSize)
			if rec%format.PageSize != 0 || n < 1 || n > im.l.MaxRun || p+n > im.topPage {
				errs = append(errs, fail(typ, pageOff, "invalid large record %d bytes", rec))
				p++
				continue
			}
			for q := p; q < p+n; q++ {
				if got := im.record(q); got != rec {
					errs = append(errs, fail(typ, q*format.PageSize, "page %d of %d byte block records %d", q-p, rec, got))
				}
				if _, ok := free[q]; ok {
					errs = append(errs, fail(typ, q*format.PageSize, "allocated page is also on a run list"))
				}
			}
			p += n
		}
	}
	return errors.Join(errs...)
}
