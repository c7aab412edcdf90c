package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/internal/format"
)

const ps = format.PageSize

func testOptions(pages, maxRun int) *arena.Options {
	return &arena.Options{
		Capacity:    int64(pages) * ps,
		MaxRunPages: maxRun,
		GrowChunk:   ps,
	}
}

// newTestAllocator returns an allocator over a fresh memory arena.
func newTestAllocator(t testing.TB, opts *arena.Options, aopts ...Option) (*arena.Arena, *Allocator) {
	t.Helper()
	if opts == nil {
		opts = testOptions(256, 32)
	}
	ar, err := arena.NewMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })

	al, err := New(ar, nil, aopts...)
	require.NoError(t, err)
	return ar, al
}

// recordingTracker remembers every dirty range.
type recordingTracker struct {
	ranges [][2]int
}

func (r *recordingTracker) Add(off, length int) {
	r.ranges = append(r.ranges, [2]int{off, length})
}

// covers reports whether [off, off+n) lies inside one recorded range.
func (r *recordingTracker) covers(off, n int) bool {
	for _, rg := range r.ranges {
		if off >= rg[0] && off+n <= rg[0]+rg[1] {
			return true
		}
	}
	return false
}

// classList returns the offsets on the slot list for rec, checking prev links.
func classList(t *testing.T, al *Allocator, rec uint32) []Offset {
	t.Helper()
	head, ok := al.layout.SlotHeadOffset(rec)
	require.True(t, ok)

	var out []Offset
	prev := NullOffset
	require.NoError(t, al.walk(head, 1<<16, func(off Offset) error {
		require.Equal(t, prev, al.get(int(off)), "prev link of 0x%x", off)
		out = append(out, off)
		prev = off
		return nil
	}))
	return out
}
