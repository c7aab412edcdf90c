package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena/alloc"
	"github.com/joshuapare/arenakit/internal/format"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Show page and slot usage",
		Long: `The stats command walks the free lists and the page size table and
reports how every committed page is used: free runs by length, slot pages per
size class, large blocks, and the overall fill level.

Example:
  arenactl stats heap.arena
  arenactl stats heap.arena --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args)
		},
	}
	return cmd
}

// UsageReport is the stats command's JSON shape.
type UsageReport struct {
	File  string      `json:"file"`
	Usage alloc.Usage `json:"usage"`
	Used  int64       `json:"usedBytes"`
	Fill  float64     `json:"fill"`
}

func runStats(args []string) error {
	path := args[0]

	s, err := openSession(path)
	if err != nil {
		return err
	}
	defer s.close()

	u, err := s.al.Usage()
	if err != nil {
		return fmt.Errorf("failed to collect usage: %w", err)
	}

	report := UsageReport{File: path, Usage: u, Used: u.UsedBytes()}
	if u.Top > 0 {
		report.Fill = float64(report.Used) / float64(u.Top)
	}
	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nArena Statistics: %s\n", path)
	printInfo("  Committed: %s of %s\n", humanize.IBytes(uint64(u.Top)), humanize.IBytes(uint64(u.Capacity)))
	printInfo("  In use: %s (%.1f%%)\n", humanize.IBytes(uint64(report.Used)), 100*report.Fill)
	printInfo("  Header pages: %s\n", numbers.Sprint(u.HeaderPages))

	printInfo("\nFree Runs:\n")
	if len(u.FreeRuns) == 0 {
		printInfo("  (none)\n")
	}
	for _, k := range slices.Sorted(maps.Keys(u.FreeRuns)) {
		printInfo("  %6s pages: %s\n", numbers.Sprint(k), numbers.Sprint(u.FreeRuns[k]))
	}
	printInfo("  Total: %s pages (%s)\n", numbers.Sprint(u.FreePages),
		humanize.IBytes(uint64(u.FreePages)*format.PageSize))

	printInfo("\nSlot Classes:\n")
	if len(u.Classes) == 0 {
		printInfo("  (none)\n")
	}
	for _, size := range slices.Sorted(maps.Keys(u.Classes)) {
		c := u.Classes[size]
		printInfo("  %5d bytes: %s pages, %s live, %s free\n", size,
			numbers.Sprint(c.Pages), numbers.Sprint(c.LiveSlots), numbers.Sprint(c.FreeSlots))
	}

	printInfo("\nLarge Blocks: %s (%s pages)\n", numbers.Sprint(u.LargeBlocks), numbers.Sprint(u.LargePages))
	if u.OtherPages > 0 {
		printInfo("Unrecorded pages: %s\n", numbers.Sprint(u.OtherPages))
	}
	return nil
}
