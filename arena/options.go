package arena

import (
	"fmt"
	"os"

	"github.com/joshuapare/arenakit/internal/format"
)

// Options controls the geometry of a newly created arena. Geometry is stored
// in the header, so Open needs none of it.
type Options struct {
	// Capacity is the largest size the arena may grow to, in bytes. It is
	// rounded down to a whole number of pages.
	Capacity int64

	// MaxRunPages is the longest contiguous page run the allocator serves.
	// Clamped to the page count.
	MaxRunPages int

	// KnownSize enables three extra slot classes of KnownSize, KnownSize+4
	// and KnownSize+8 bytes for one frequently allocated record size. Zero
	// disables them.
	KnownSize int

	// GrowChunk is the granularity by which the backing file is extended.
	// Must be a power of two and a multiple of the page size.
	GrowChunk int64

	// Creator is stored in the header for diagnostics.
	Creator string

	// Perm is the file mode used by Create.
	Perm os.FileMode
}

// Defaults.
const (
	DefaultCapacity  = 64 << 20
	DefaultGrowChunk = 64 << 10
	DefaultCreator   = "arenakit"
	MaxCapacity      = int64(format.MaxPageCount) * format.PageSize
)

// DefaultOptions returns the options used when nil is passed to Create or
// NewMemory: 64 MiB capacity, 4 MiB longest run, 64 KiB growth steps.
func DefaultOptions() Options {
	return Options{
		Capacity:    DefaultCapacity,
		MaxRunPages: format.DefaultMaxRunPages,
		GrowChunk:   DefaultGrowChunk,
		Creator:     DefaultCreator,
		Perm:        0o644,
	}
}

// resolve fills zero fields from DefaultOptions and computes the layout.
func (o *Options) resolve() (Options, format.Layout, error) {
	r := DefaultOptions()
	if o != nil {
		if o.Capacity != 0 {
			r.Capacity = o.Capacity
		}
		if o.MaxRunPages != 0 {
			r.MaxRunPages = o.MaxRunPages
		}
		if o.GrowChunk != 0 {
			r.GrowChunk = o.GrowChunk
		}
		if o.Creator != "" {
			r.Creator = o.Creator
		}
		if o.Perm != 0 {
			r.Perm = o.Perm
		}
		r.KnownSize = o.KnownSize
	}

	if r.Capacity < 0 || r.Capacity > MaxCapacity {
		return r, format.Layout{}, fmt.Errorf("arena: capacity %d out of range (max %d)", r.Capacity, MaxCapacity)
	}
	if r.GrowChunk < format.PageSize || r.GrowChunk&(r.GrowChunk-1) != 0 {
		return r, format.Layout{}, fmt.Errorf("arena: grow chunk %d must be a power of two >= %d", r.GrowChunk, format.PageSize)
	}
	if r.KnownSize < 0 {
		return r, format.Layout{}, fmt.Errorf("arena: negative known size %d", r.KnownSize)
	}

	pages := int(r.Capacity >> format.PageShift)
	r.MaxRunPages = min(r.MaxRunPages, pages)

	l, err := format.ComputeLayout(pages, r.MaxRunPages, uint32(r.KnownSize))
	if err != nil {
		return r, format.Layout{}, err
	}
	return r, l, nil
}
