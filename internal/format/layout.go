package format

import (
	"fmt"
	"math/bits"
	"time"
)

// Layout locates the header tables of one arena image. Geometry is fixed when
// the arena is created and read back from the header on every open.
//
// Table layout (little-endian uint32 entries, starting at TablesOffset):
//
//	run heads    [MaxRun]      head of the free list for runs of k pages, at k-1
//	pow2 heads   [Pow2ClassCount]
//	known heads  [KnownClassCount]
//	size table   [PageCount]   recorded size of the block owning each page, 0 if none
type Layout struct {
	PageCount int
	MaxRun    int
	KnownBase uint32

	RunHeads   int
	Pow2Heads  int
	KnownHeads int
	SizeTable  int
	End        int

	// HeaderSize is End rounded up to a page; the first allocatable page starts here.
	HeaderSize int
}

// ComputeLayout validates the geometry and returns the resulting layout.
func ComputeLayout(pageCount, maxRun int, knownBase uint32) (Layout, error) {
	if pageCount < 2 || pageCount > MaxPageCount {
		return Layout{}, fmt.Errorf("%w: page count %d out of range [2, %d]", ErrGeometry, pageCount, MaxPageCount)
	}
	if maxRun < 1 || maxRun > pageCount {
		return Layout{}, fmt.Errorf("%w: max run %d out of range [1, %d]", ErrGeometry, maxRun, pageCount)
	}
	if knownBase != 0 {
		if knownBase%KnownClassStep != 0 || knownBase < SlotMinSize ||
			knownBase+KnownClassStep*(KnownClassCount-1) > SlotMaxSize {
			return Layout{}, fmt.Errorf("%w: known size %d", ErrGeometry, knownBase)
		}
	}

	l := Layout{
		PageCount: pageCount,
		MaxRun:    maxRun,
		KnownBase: knownBase,
		RunHeads:  TablesOffset,
	}
	l.Pow2Heads = l.RunHeads + 4*maxRun
	l.KnownHeads = l.Pow2Heads + 4*Pow2ClassCount
	l.SizeTable = l.KnownHeads + 4*KnownClassCount
	l.End = l.SizeTable + 4*pageCount
	l.HeaderSize = AlignPage(l.End)

	if l.HeaderSize/PageSize >= pageCount {
		return Layout{}, fmt.Errorf("%w: header needs %d of %d pages", ErrGeometry, l.HeaderSize/PageSize, pageCount)
	}
	return l, nil
}

// ReadLayout reads the geometry stored in an image header.
func ReadLayout(data []byte) (Layout, error) {
	if len(data) < TablesOffset {
		return Layout{}, ErrTruncated
	}
	l, err := ComputeLayout(
		int(ReadU32(data, PageCountOffset)),
		int(ReadU32(data, MaxRunOffset)),
		ReadU32(data, KnownBaseOffset),
	)
	if err != nil {
		return Layout{}, err
	}
	if hs := int(ReadU32(data, HeaderSizeOffset)); hs != l.HeaderSize {
		return Layout{}, fmt.Errorf("%w: header size field %d, layout needs %d", ErrGeometry, hs, l.HeaderSize)
	}
	if len(data) < l.HeaderSize {
		return Layout{}, ErrTruncated
	}
	return l, nil
}

// Capacity is the largest top the arena may reach, in bytes.
func (l Layout) Capacity() int64 {
	return int64(l.PageCount) * PageSize
}

// RunHeadOffset is the header offset of the free-list head for runs of k pages.
func (l Layout) RunHeadOffset(k int) int {
	return l.RunHeads + 4*(k-1)
}

// Pow2HeadOffset is the header offset of power-of-two class idx.
func (l Layout) Pow2HeadOffset(idx int) int {
	return l.Pow2Heads + 4*idx
}

// KnownHeadOffset is the header offset of known class idx.
func (l Layout) KnownHeadOffset(idx int) int {
	return l.KnownHeads + 4*idx
}

// SizeInfoOffset is the header offset of the size table entry for page.
func (l Layout) SizeInfoOffset(page int) int {
	return l.SizeTable + 4*page
}

// SlotHeadOffset returns the list head serving slots of the recorded size, or
// false when recorded is not a slot size for this layout.
func (l Layout) SlotHeadOffset(recorded uint32) (int, bool) {
	if l.KnownBase != 0 && !IsPow2(recorded) {
		delta := recorded - l.KnownBase
		if recorded >= l.KnownBase && delta%KnownClassStep == 0 && delta/KnownClassStep < KnownClassCount {
			return l.KnownHeadOffset(int(delta / KnownClassStep)), true
		}
		return 0, false
	}
	if !IsPow2(recorded) || recorded < SlotMinSize || recorded > SlotMaxSize {
		return 0, false
	}
	return l.Pow2HeadOffset(bits.TrailingZeros32(recorded) - 2), true
}

// ResetListHeads sets every run, pow2 and known head to NullOffset.
func ResetListHeads(data []byte, l Layout) {
	for k := 1; k <= l.MaxRun; k++ {
		PutU32(data, l.RunHeadOffset(k), NullOffset)
	}
	for i := range Pow2ClassCount {
		PutU32(data, l.Pow2HeadOffset(i), NullOffset)
	}
	for i := range KnownClassCount {
		PutU32(data, l.KnownHeadOffset(i), NullOffset)
	}
}

// WriteHeader stamps a fresh header for l into data, which must be at least
// l.HeaderSize bytes and zeroed. The tables are reinitialized, not just zeroed.
func WriteHeader(data []byte, l Layout, creator string, now time.Time) {
	copy(data[MagicOffset:MagicOffset+len(Magic)], Magic)
	data[EndianOffset] = EndianLittle
	data[MajorOffset] = MajorVersion
	PutU16(data, MinorOffset, MinorVersion)
	PutU32(data, CapacityOffset, uint32(l.Capacity()))
	PutU32(data, TopOffset, uint32(l.HeaderSize))
	PutU32(data, FlagsOffset, 0)
	PutU32(data, PrimarySeqOffset, 0)
	PutU32(data, SecondarySeqOffset, 0)
	PutU32(data, HeaderSizeOffset, uint32(l.HeaderSize))
	PutU32(data, MaxRunOffset, uint32(l.MaxRun))
	PutU32(data, PageCountOffset, uint32(l.PageCount))
	PutU32(data, KnownBaseOffset, l.KnownBase)
	PutU64(data, ChangedOffset, uint64(now.UnixNano()))
	SetCreator(data, creator)
	ResetListHeads(data, l)
}

// Creator returns the NUL-trimmed creator string.
func Creator(data []byte) string {
	raw := data[CreatorOffset : CreatorOffset+CreatorSize]
	for i, c := range raw {
		if c == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// SetCreator stores s, truncated to CreatorSize bytes.
func SetCreator(data []byte, s string) {
	raw := data[CreatorOffset : CreatorOffset+CreatorSize]
	clear(raw)
	copy(raw, s)
}

// SlotCount is the number of slots of the given size in one slot page.
func SlotCount(size uint32) int {
	return (PageSize - SlotPageHeaderSize) / int(size)
}

// SlotOffset is the offset of slot idx in the slot page starting at page.
func SlotOffset(page uint32, idx int, size uint32) uint32 {
	return page + SlotPageHeaderSize + uint32(idx)*size
}

// SlotIndex returns the slot index of off and whether off is exactly on a slot boundary.
func SlotIndex(off, size uint32) (int, bool) {
	in := off & PageMask
	if in < SlotPageHeaderSize {
		return 0, false
	}
	in -= SlotPageHeaderSize
	idx := int(in / size)
	return idx, in%size == 0 && idx < SlotCount(size)
}
