package verify

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/alloc"
	"github.com/joshuapare/arenakit/internal/format"
)

const ps = format.PageSize

// sample is an image with slot pages of two classes, a large block, a raw
// page run and a free run.
type sample struct {
	data  []byte
	l     format.Layout
	slots []alloc.Offset
	known alloc.Offset
	large alloc.Offset
	run   alloc.Offset
}

func newAllocator(t *testing.T) (*arena.Arena, *alloc.Allocator) {
	t.Helper()
	ar, err := arena.NewMemory(&arena.Options{
		Capacity:    64 * ps,
		MaxRunPages: 8,
		KnownSize:   40,
		GrowChunk:   ps,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })

	al, err := alloc.New(ar, nil)
	require.NoError(t, err)
	return ar, al
}

func buildSample(t *testing.T) sample {
	t.Helper()
	ar, al := newAllocator(t)

	var s sample
	for range 3 {
		off, _, err := al.Alloc(16)
		require.NoError(t, err)
		s.slots = append(s.slots, off)
	}
	var err error
	s.known, _, err = al.Alloc(40)
	require.NoError(t, err)
	s.large, _, err = al.Alloc(2 * ps)
	require.NoError(t, err)
	_, err = al.AllocPages(1)
	require.NoError(t, err)

	s.run, _, err = al.Alloc(3 * ps)
	require.NoError(t, err)
	require.NoError(t, al.Free(s.run))

	s.data = bytes.Clone(ar.Bytes())
	s.l = al.Layout()
	return s
}

func TestAllInvariants_Valid(t *testing.T) {
	s := buildSample(t)
	require.NoError(t, AllInvariants(s.data))
}

func TestAllInvariants_Fresh(t *testing.T) {
	ar, _ := newAllocator(t)
	require.NoError(t, AllInvariants(ar.Bytes()))
}

func TestAllInvariants_AfterChurn(t *testing.T) {
	ar, al := newAllocator(t)
	rng := rand.New(rand.NewPCG(7, 11))
	sizes := []int{1, 16, 24, 40, 44, 48, 100, 700, 1024, 1025, 5000, 3 * ps}

	var live []alloc.Offset
	for i := range 1500 {
		if len(live) > 0 && rng.IntN(3) == 0 {
			j := rng.IntN(len(live))
			require.NoError(t, al.Free(live[j]))
			live = append(live[:j], live[j+1:]...)
		} else {
			off, _, err := al.Alloc(sizes[rng.IntN(len(sizes))])
			if errors.Is(err, alloc.ErrNoSpace) {
				continue
			}
			require.NoError(t, err)
			live = append(live, off)
		}
		if i%100 == 0 {
			require.NoError(t, AllInvariants(ar.Bytes()), "after op %d", i)
		}
	}

	_, err := al.CoalesceFreeRuns()
	require.NoError(t, err)
	require.NoError(t, AllInvariants(ar.Bytes()))

	for _, off := range live {
		require.NoError(t, al.Free(off))
	}
	require.NoError(t, AllInvariants(ar.Bytes()))
}

func TestHeader(t *testing.T) {
	s := buildSample(t)
	top := format.ReadU32(s.data, format.TopOffset)

	tests := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"signature", func(b []byte) { b[0] = 'X' }, "invalid signature"},
		{"byte order", func(b []byte) { b[format.EndianOffset] = 0 }, "byte order"},
		{"major version", func(b []byte) { b[format.MajorOffset] = 9 }, "major version"},
		{"geometry", func(b []byte) { format.PutU32(b, format.MaxRunOffset, 0) }, "geometry"},
		{"capacity", func(b []byte) { format.PutU32(b, format.CapacityOffset, 1) }, "capacity"},
		{"top unaligned", func(b []byte) { format.PutU32(b, format.TopOffset, top+1) }, "not page aligned"},
		{"top in header", func(b []byte) { format.PutU32(b, format.TopOffset, 0) }, "inside header"},
		{"top past capacity", func(b []byte) { format.PutU32(b, format.TopOffset, 65*ps) }, "beyond capacity"},
		{"top past image", func(b []byte) { format.PutU32(b, format.TopOffset, top+ps) }, "beyond end of image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(s.data)
			tt.mutate(b)

			err := Header(b)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)

			// A bad header short-circuits the other checks.
			require.Equal(t, err.Error(), AllInvariants(b).Error())
		})
	}
}

func TestHeader_TooSmall(t *testing.T) {
	err := Header(make([]byte, 16))
	require.Error(t, err)
	require.Contains(t, err.Error(), "image too small")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, -1, ve.Offset)
	require.Equal(t, "Header: image too small: 16 bytes (need 128)", err.Error())
}

func TestHeader_Details(t *testing.T) {
	s := buildSample(t)
	top := format.ReadU32(s.data, format.TopOffset)
	format.PutU32(s.data, format.TopOffset, top+ps)

	var ve *ValidationError
	require.ErrorAs(t, Header(s.data), &ve)
	require.Equal(t, format.TopOffset, ve.Offset)
	require.Equal(t, int64(top+ps), ve.Details["top"])
	require.Equal(t, len(s.data), ve.Details["size"])
}

func TestSequenceNumbers(t *testing.T) {
	s := buildSample(t)
	require.NoError(t, SequenceNumbers(s.data))

	format.PutU32(s.data, format.PrimarySeqOffset, 5)
	format.PutU32(s.data, format.SecondarySeqOffset, 4)

	err := SequenceNumbers(s.data)
	require.Error(t, err)
	require.Contains(t, err.Error(), "interrupted transaction")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, uint32(5), ve.Details["primary"])
	require.Equal(t, uint32(4), ve.Details["secondary"])

	require.ErrorAs(t, AllInvariants(s.data), &ve)
	require.Equal(t, "SequenceNumbers", ve.Type)
	require.NoError(t, Structure(s.data))
}

func TestFreeRuns(t *testing.T) {
	s := buildSample(t)
	require.Equal(t, s.run, format.ReadU32(s.data, s.l.RunHeadOffset(3)))

	tests := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"prev link", func(b []byte) { format.PutU32(b, int(s.run), 0x1000) }, "prev link"},
		{"self loop", func(b []byte) { format.PutU32(b, int(s.run)+4, s.run) }, "prev link"},
		{"unaligned", func(b []byte) { format.PutU32(b, s.l.RunHeadOffset(3), s.slots[1]) }, "not page aligned"},
		{"below header", func(b []byte) { format.PutU32(b, s.l.RunHeadOffset(3), 0) }, "node outside"},
		{"past top", func(b []byte) { format.PutU32(b, s.l.RunHeadOffset(8), s.run) }, "extends past top"},
		{"recorded", func(b []byte) {
			format.PutU32(b, s.l.SizeInfoOffset(format.PageOf(s.run)+2), 3*ps)
		}, "free page"},
		{"on two lists", func(b []byte) {
			format.PutU32(b, s.l.RunHeadOffset(1), s.run+2*ps)
			format.PutU32(b, int(s.run)+2*ps, format.NullOffset)
			format.PutU32(b, int(s.run)+2*ps+4, format.NullOffset)
		}, "already in run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(s.data)
			tt.mutate(b)

			err := FreeRuns(b)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
			require.Error(t, AllInvariants(b))
		})
	}
}

func TestSlotLists(t *testing.T) {
	s := buildSample(t)
	page := int(format.PageStart(s.slots[0]))
	head, ok := s.l.SlotHeadOffset(16)
	require.True(t, ok)
	first := format.SlotOffset(uint32(page), 3, 16)
	require.Equal(t, first, format.ReadU32(s.data, head))

	tests := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"bit set", func(b []byte) { format.PutU32(b, page, 0xF) }, "marked allocated"},
		{"wrong class", func(b []byte) {
			knownHead, _ := s.l.SlotHeadOffset(40)
			format.PutU32(b, knownHead, first)
		}, "lives on page recording 16"},
		{"misaligned", func(b []byte) {
			format.PutU32(b, head, first+8)
			format.PutU32(b, int(first)+8, format.NullOffset)
		}, "slot boundary"},
		{"prev link", func(b []byte) { format.PutU32(b, int(first)+16, 0) }, "prev link"},
		{"on free page", func(b []byte) { format.PutU32(b, head, s.run) }, "recording 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(s.data)
			tt.mutate(b)

			err := SlotLists(b)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPageAccounting(t *testing.T) {
	s := buildSample(t)
	require.NoError(t, PageAccounting(s.data))

	slotPage := int(format.PageStart(s.slots[0]))
	knownPage := int(format.PageStart(s.known))

	tests := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"header page record", func(b []byte) { format.PutU32(b, s.l.SizeInfoOffset(0), 16) }, "header page 0"},
		{"record above top", func(b []byte) { format.PutU32(b, s.l.SizeInfoOffset(63), ps) }, "above top"},
		{"unlisted free slot", func(b []byte) { format.PutU32(b, slotPage, 0x3) }, "free slots listed"},
		{"empty slot page", func(b []byte) { format.PutU32(b, slotPage, 0) }, "was not released"},
		{"bits past slot count", func(b []byte) {
			format.PutU32(b, knownPage+12, 1<<31)
		}, "bitmap marks slots past 101"},
		{"large record mismatch", func(b []byte) {
			format.PutU32(b, s.l.SizeInfoOffset(format.PageOf(s.large)+1), ps)
		}, "page 1 of 8192 byte block"},
		{"bad large record", func(b []byte) {
			format.PutU32(b, s.l.SizeInfoOffset(format.PageOf(s.large)), 100)
		}, "invalid large record"},
		{"large run too long", func(b []byte) {
			format.PutU32(b, s.l.SizeInfoOffset(format.PageOf(s.large)), 9*ps)
		}, "invalid large record"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(s.data)
			tt.mutate(b)

			err := PageAccounting(b)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPageAccounting_Details(t *testing.T) {
	s := buildSample(t)
	slotPage := int(format.PageStart(s.slots[0]))
	format.PutU32(s.data, slotPage, 0x3)

	var ve *ValidationError
	require.ErrorAs(t, PageAccounting(s.data), &ve)
	require.Equal(t, slotPage, ve.Offset)
	require.Equal(t, 2, ve.Details["used"])
	require.Equal(t, format.SlotCount(16)-3, ve.Details["listed"])
}

func TestValidationError_Format(t *testing.T) {
	e := &ValidationError{Type: "FreeRuns", Message: "run not page aligned", Offset: 0x2010}
	require.Equal(t, "FreeRuns at offset 0x2010: run not page aligned", e.Error())

	e.Offset = -1
	require.Equal(t, "FreeRuns: run not page aligned", e.Error())
}
