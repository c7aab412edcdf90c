// Package arena provides the mapped region an allocator lives in: a single
// file (or memory block) whose first pages hold a persisted control header,
// addressed by uint32 byte offsets from its base.
//
// # Lifecycle
//
//	a, err := arena.Create(path, nil) // new file, fresh header
//	a, err := arena.Open(path)        // existing file, header validated
//	defer a.Close()
//
// Open checks magic, byte order, major version, geometry and top, and trusts
// the free-list tables. Use the verify package to check them.
//
// # Growth
//
// Grow commits whole pages at the top of the arena. The backing file is
// extended in GrowChunk steps and remapped, so every slice obtained from
// Bytes, Slice or Pointer is stale after a call that may grow. Offsets stay
// valid across growth, close and reopen.
//
// # Locking
//
// Lock and Unlock take a nesting exclusive flock(2) on the file. They
// serialize processes; goroutines sharing one *Arena must serialize
// themselves.
package arena
