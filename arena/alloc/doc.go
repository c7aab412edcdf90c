// Package alloc is an offset-addressed allocator living entirely inside an
// arena: free lists, size records and occupancy bitmaps are all stored in the
// arena bytes and linked by uint32 offsets, so the state survives close,
// reopen and remapping at a different address.
//
// # Tiers
//
// Page runs: requests larger than SlotMaxSize (1 KiB) are served as runs of
// whole pages from MaxRun free lists, one per run length, first-fit by
// increasing length. A longer run is split; its tail goes back on the list
// for the remaining length. Released runs are never merged with neighbours
// (see CoalesceFreeRuns). When no list can serve a request the Region grows.
//
// Slots: smaller requests are rounded up to a power of two (16 B to 1 KiB)
// and carved from slot pages. Each slot page holds one size and starts with
// a 32-byte occupancy bitmap. Free slots sit on a per-size LIFO list; a slot
// page goes back to the run lists as soon as its last slot is freed.
//
//	size    0..16   -> 16 B slot
//	size   17..32   -> 32 B slot
//	...
//	size  513..1024 -> 1 KiB slot
//	size 1025..     -> ceil(size/4096) pages
//
// An arena created with a known size (arena.Options.KnownSize) has three
// extra classes, base, base+4 and base+8, for one hot record size.
//
// # Size table
//
// The header holds one uint32 per page: the recorded size of the block that
// owns it (slot size for slot pages, run length in bytes on every page of a
// large block), or 0. Free dispatches on it, so Free needs only the offset.
//
// # Usage
//
//	dt := dirty.NewTracker(a)
//	al, err := alloc.New(a, dt)
//	if err != nil {
//	    return err
//	}
//
//	off, buf, err := al.Alloc(200) // 256 B slot
//	copy(buf, payload)
//
//	err = al.Free(off)
//
// Slices returned by Alloc, Realloc, Calloc and Block alias the arena and
// are invalidated by any later call that grows it. Keep offsets, not slices.
//
// # Concurrency
//
// None. Callers serialize all calls, for example inside tx.Manager.Do.
package alloc
