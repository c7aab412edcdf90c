package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/internal/format"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Validate an arena header and report its geometry",
		Long: `The info command opens an arena file, validates its header and
displays the geometry, commit level, flags and transaction state.

Example:
  arenactl info heap.arena
  arenactl info heap.arena --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

// ArenaInfo is the info command's report.
type ArenaInfo struct {
	File         string    `json:"file"`
	Creator      string    `json:"creator"`
	FileSize     int64     `json:"fileSize"`
	Capacity     int64     `json:"capacity"`
	Top          uint32    `json:"top"`
	PageCount    int       `json:"pageCount"`
	MaxRun       int       `json:"maxRun"`
	KnownBase    uint32    `json:"knownBase"`
	HeaderSize   int       `json:"headerSize"`
	Flags        []string  `json:"flags"`
	PrimarySeq   uint32    `json:"primarySeq"`
	SecondarySeq uint32    `json:"secondarySeq"`
	Clean        bool      `json:"clean"`
	Changed      time.Time `json:"changed"`
}

func collectInfo(path string, a *arena.Arena) ArenaInfo {
	l := a.Layout()
	p, s := a.Sequences()
	info := ArenaInfo{
		File:         path,
		Creator:      a.Creator(),
		FileSize:     a.Size(),
		Capacity:     a.Capacity(),
		Top:          a.Top(),
		PageCount:    l.PageCount,
		MaxRun:       l.MaxRun,
		KnownBase:    l.KnownBase,
		HeaderSize:   l.HeaderSize,
		Flags:        flagNames(a.Flags()),
		PrimarySeq:   p,
		SecondarySeq: s,
		Clean:        p == s,
		Changed:      a.Changed().UTC(),
	}
	return info
}

func flagNames(f uint32) []string {
	names := []string{}
	if f&format.FlagNoMem != 0 {
		names = append(names, "nomem")
	}
	if f&format.FlagChanged != 0 {
		names = append(names, "changed")
	}
	if rest := f &^ (format.FlagNoMem | format.FlagChanged); rest != 0 {
		names = append(names, fmt.Sprintf("0x%X", rest))
	}
	return names
}

func runInfo(args []string) error {
	path := args[0]

	printVerbose("Opening arena: %s\n", path)
	a, err := arena.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open arena: %w", err)
	}
	defer a.Close()

	info := collectInfo(path, a)
	if jsonOut {
		return printJSON(info)
	}

	printInfo("\nArena Information:\n")
	printInfo("  File: %s\n", info.File)
	printInfo("  Creator: %s\n", info.Creator)
	printInfo("  File size: %s\n", humanize.IBytes(uint64(info.FileSize)))
	printInfo("  Capacity: %s (%s pages)\n", humanize.IBytes(uint64(info.Capacity)), numbers.Sprint(info.PageCount))
	printInfo("  Committed: %s (%.1f%%)\n", humanize.IBytes(uint64(info.Top)),
		100*float64(info.Top)/float64(info.Capacity))
	printInfo("  Max run: %s pages\n", numbers.Sprint(info.MaxRun))
	printInfo("  Header: %s\n", humanize.IBytes(uint64(info.HeaderSize)))
	if info.KnownBase != 0 {
		printInfo("  Known classes: %d, %d, %d\n", info.KnownBase, info.KnownBase+4, info.KnownBase+8)
	}
	if len(info.Flags) > 0 {
		printInfo("  Flags: %v\n", info.Flags)
	}
	printInfo("  Changed: %s (%s)\n", info.Changed.Format(time.RFC3339), humanize.Time(info.Changed))

	printInfo("\nTransactions:\n")
	printInfo("  Sequence: %d/%d\n", info.PrimarySeq, info.SecondarySeq)
	if info.Clean {
		printInfo("  ✓ Last transaction completed\n")
	} else {
		printInfo("  ✗ Interrupted transaction (primary != secondary)\n")
	}
	return nil
}
