package alloc

import (
	"cmp"
	"slices"

	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// Run is a free page run.
type Run struct {
	Off   Offset
	Pages int
}

// End is the offset just past the run.
func (r Run) End() Offset { return r.Off + uint32(r.Pages*format.PageSize) }

// FreeRuns returns every run on the free lists, sorted by offset.
func (a *Allocator) FreeRuns() ([]Run, error) {
	var runs []Run
	for k := 1; k <= a.layout.MaxRun; k++ {
		err := a.walk(a.layout.RunHeadOffset(k), a.layout.PageCount, func(off Offset) error {
			runs = append(runs, Run{Off: off, Pages: k})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(runs, func(x, y Run) int { return cmp.Compare(x.Off, y.Off) })
	return runs, nil
}

// CoalesceFreeRuns merges address-adjacent free runs into longer ones, never
// exceeding MaxRun pages, and rebuilds the run lists. Release never does this
// on its own. It returns the number of merges.
func (a *Allocator) CoalesceFreeRuns() (int, error) {
	runs, err := a.FreeRuns()
	if err != nil || len(runs) < 2 {
		return 0, err
	}

	merged := make([]Run, 0, len(runs))
	cur := runs[0]
	merges := 0
	for _, r := range runs[1:] {
		if r.Off == cur.End() && cur.Pages+r.Pages <= a.layout.MaxRun {
			cur.Pages += r.Pages
			merges++
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)

	if merges == 0 {
		return 0, nil
	}

	for k := 1; k <= a.layout.MaxRun; k++ {
		a.put(a.layout.RunHeadOffset(k), NullOffset)
	}
	// Push in reverse so each list ends up in address order.
	for i := len(merged) - 1; i >= 0; i-- {
		a.pushRun(merged[i].Pages, merged[i].Off)
	}

	a.stats.RunsMerged += merges
	logger.Debug("free runs coalesced", "before", len(runs), "after", len(merged))
	return merges, nil
}
