package alloc

import (
	"fmt"

	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// Free page runs are kept on MaxRun doubly linked lists, one per run length.
// A run's node is its first 8 bytes:
//
//	0x00  prev  uint32  previous run of the same length, or NullOffset
//	0x04  next  uint32  next run of the same length, or NullOffset
//
// Runs are never merged on release; see CoalesceFreeRuns.

// AllocPages returns the offset of n contiguous pages, 1 <= n <= MaxRun.
//
// The run lists are probed first-fit from length n upward; a longer run is
// split and its tail pushed on the list for the remaining length. When no
// list can serve the request the region grows by exactly n pages. The pages
// belong to the caller until ReleasePages; they are not recorded in the size
// table.
func (a *Allocator) AllocPages(n int) (Offset, error) {
	if n < 1 || n > a.layout.MaxRun {
		return NullOffset, fmt.Errorf("%w: run of %d pages, want [1, %d]", ErrBadSize, n, a.layout.MaxRun)
	}

	for k := n; k <= a.layout.MaxRun; k++ {
		head := a.get(a.layout.RunHeadOffset(k))
		if head == NullOffset {
			continue
		}
		a.unlinkRun(k, head)
		if k > n {
			a.pushRun(k-n, head+uint32(n*format.PageSize))
			a.stats.RunSplits++
		}
		a.stats.PageAllocs++
		return head, nil
	}

	return a.growPages(n)
}

// growPages commits n new pages at the top of the region.
func (a *Allocator) growPages(n int) (Offset, error) {
	top := int(a.top())
	if format.PagesFor(top)+n > a.layout.PageCount {
		a.stats.NoSpace++
		logger.Warn("arena exhausted", "top", top, "pages", n, "pageCount", a.layout.PageCount)
		return NullOffset, fmt.Errorf("%w: %d pages at top 0x%x, capacity %d pages", ErrNoSpace, n, top, a.layout.PageCount)
	}

	bytes := n * format.PageSize
	if a.onGrow != nil {
		a.onGrow(bytes)
	}
	off, err := a.r.Grow(bytes)
	if err != nil {
		a.stats.NoSpace++
		logger.Warn("arena growth failed", "pages", n, "err", err)
		return NullOffset, fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	a.markDirty(format.TopOffset, 4)

	a.stats.GrowCalls++
	a.stats.GrowBytes += int64(bytes)
	a.stats.PageAllocs++
	logger.Debug("arena grown", "off", off, "pages", n, "top", a.top())
	return off, nil
}

// ReleasePages returns the n-page run at start to the free list for length
// n. It never merges with neighbouring runs.
func (a *Allocator) ReleasePages(start Offset, n int) error {
	if n < 1 || n > a.layout.MaxRun {
		return fmt.Errorf("%w: run of %d pages, want [1, %d]", ErrBadSize, n, a.layout.MaxRun)
	}
	if start&format.PageMask != 0 || start < uint32(a.layout.HeaderSize) ||
		int64(start)+int64(n)*format.PageSize > int64(a.top()) {
		return fmt.Errorf("%w: run 0x%x+%d pages", ErrBadOffset, start, n)
	}
	a.pushRun(n, start)
	a.stats.PageReleases++
	return nil
}

// pushRun makes the run at off the head of list k.
func (a *Allocator) pushRun(k int, off Offset) {
	a.pushNode(a.layout.RunHeadOffset(k), off)
}

// unlinkRun removes the run at off from list k.
func (a *Allocator) unlinkRun(k int, off Offset) {
	a.unlinkNode(a.layout.RunHeadOffset(k), off)
}

// pushNode inserts off at the head of the list rooted at headOff.
func (a *Allocator) pushNode(headOff int, off Offset) {
	next := a.get(headOff)
	a.put(int(off), NullOffset)
	a.put(int(off)+4, next)
	if next != NullOffset {
		a.put(int(next), off)
	}
	a.put(headOff, off)
}

// unlinkNode removes off from the list rooted at headOff in O(1).
func (a *Allocator) unlinkNode(headOff int, off Offset) {
	prev := a.get(int(off))
	next := a.get(int(off) + 4)
	if prev != NullOffset {
		a.put(int(prev)+4, next)
	} else {
		a.put(headOff, next)
	}
	if next != NullOffset {
		a.put(int(next), prev)
	}
}

// walk calls fn for every node of the list rooted at headOff. It stops with
// ErrCorrupt after limit nodes.
func (a *Allocator) walk(headOff, limit int, fn func(off Offset) error) error {
	n := 0
	for off := a.get(headOff); off != NullOffset; off = a.get(int(off) + 4) {
		if n++; n > limit {
			return fmt.Errorf("%w: list at header 0x%x exceeds %d nodes", ErrCorrupt, headOff, limit)
		}
		if int64(off)+format.LinkSize > int64(len(a.data())) {
			return fmt.Errorf("%w: node 0x%x out of range", ErrCorrupt, off)
		}
		if err := fn(off); err != nil {
			return err
		}
	}
	return nil
}
