// Package dirty tracks which byte ranges of a mapped arena were modified and
// flushes them to stable storage in a fixed order: data pages first, then the
// header pages.
//
// # Usage
//
//	t := dirty.NewTracker(a)
//	al, _ := alloc.New(a, t) // the allocator reports every write
//	...
//	_ = t.FlushDataOnly(ctx)
//	_ = t.FlushHeaderAndMeta(ctx, dirty.FlushAuto)
//
// Ranges are page aligned, sorted and merged at flush time, so Add stays a
// slice append. Ranges inside the control header are left to
// FlushHeaderAndMeta.
//
// # Memory arenas
//
// When the region is not a shared file mapping (memory arenas, platforms
// without mmap) data flushes only forget the ranges, and the header flush
// calls the region's Sync.
//
// Trackers are not safe for concurrent use.
package dirty
