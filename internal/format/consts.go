// Package format describes the persisted layout of an arena image: the control
// header at offset 0, its free-list tables and the per-page size table. It is
// deliberately allocation-free and independent from the public API so the
// allocator, the verifier and the CLI all read the same bytes the same way.
package format

// Magic is the four-byte signature at the start of every arena image.
// Layout:
//
//	0x00  'A' 'R' 'N' 'A'
var Magic = []byte{'A', 'R', 'N', 'A'}

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the allocation granule of the page-run tier.
	PageSize = 1 << PageShift

	// PageMask extracts the in-page part of an offset.
	PageMask = PageSize - 1

	// NullOffset is the "no link" sentinel stored in every list head and node.
	NullOffset uint32 = 0xFFFFFFFF

	// LinkSize is the size of a prev/next offset pair stored in a free node.
	LinkSize = 8

	// SlotMinSize is the smallest slot handed out. It must hold a LinkSize node.
	SlotMinSize = 16

	// SlotMaxSize is the largest request served by the slot tier (PageSize/4).
	SlotMaxSize = PageSize / 4

	// Pow2ClassCount is the number of power-of-two size classes (4 << 0 .. 4 << 8).
	Pow2ClassCount = PageShift - 3

	// KnownClassCount is the number of known non-power-of-two classes.
	KnownClassCount = 3

	// KnownClassStep is the distance between consecutive known classes.
	KnownClassStep = 4

	// SlotPageHeaderSize is the size of the occupancy bitmap at the start of a slot page.
	SlotPageHeaderSize = BitmapWords * 4

	// BitmapWords is the number of uint32 words in a slot page bitmap.
	BitmapWords = PageSize / SlotMinSize / 32

	// DefaultMaxRunPages is the default longest contiguous run (4 MiB).
	DefaultMaxRunPages = 4 << (20 - PageShift)

	// MaxPageCount bounds the page table so every offset fits below NullOffset.
	MaxPageCount = (1 << (32 - PageShift)) - 1
)

// Version and byte-order markers written at creation.
const (
	EndianLittle = 0x1E
	MajorVersion = 1
	MinorVersion = 0
)

// Header field offsets.
const (
	MagicOffset        = 0x00
	EndianOffset       = 0x04
	MajorOffset        = 0x05
	MinorOffset        = 0x06
	CapacityOffset     = 0x08
	TopOffset          = 0x0C
	FlagsOffset        = 0x10
	PrimarySeqOffset   = 0x14
	SecondarySeqOffset = 0x18
	HeaderSizeOffset   = 0x1C
	MaxRunOffset       = 0x20
	PageCountOffset    = 0x24
	KnownBaseOffset    = 0x28
	ChangedOffset      = 0x30
	CreatorOffset      = 0x40
	CreatorSize        = 64

	// TablesOffset is where the free-run list heads begin.
	TablesOffset = 0x80
)

// Header flags.
const (
	// FlagNoMem is set once growth was refused because capacity was reached.
	FlagNoMem uint32 = 1 << 0

	// FlagChanged is set by a transaction that modified the arena.
	FlagChanged uint32 = 1 << 1
)
