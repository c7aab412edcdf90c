package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/internal/format"
)

var (
	createCapacity  string
	createMaxRun    string
	createKnownSize int
	createGrowChunk string
	createCreator   string
	createForce     bool
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().StringVar(&createCapacity, "capacity", "64MiB", "Largest size the arena may grow to")
	cmd.Flags().StringVar(&createMaxRun, "max-run", "4MiB", "Longest contiguous page run (largest single allocation)")
	cmd.Flags().IntVar(&createKnownSize, "known-size", 0, "Base of the three known non-power-of-two slot classes (0 disables)")
	cmd.Flags().StringVar(&createGrowChunk, "grow-chunk", "64KiB", "File extension step")
	cmd.Flags().StringVar(&createCreator, "creator", arena.DefaultCreator, "Creator string stored in the header")
	cmd.Flags().BoolVarP(&createForce, "force", "f", false, "Replace an existing file")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create a new empty arena file",
		Long: `The create command writes a fresh arena header and reserves the
page tables for the requested capacity. The file itself starts small and grows
in --grow-chunk steps as pages are committed.

Example:
  arenactl create heap.arena
  arenactl create heap.arena --capacity 1GiB --max-run 16MiB
  arenactl create heap.arena --known-size 40 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args)
		},
	}
	return cmd
}

func runCreate(args []string) error {
	path := args[0]

	capacity, err := humanize.ParseBytes(createCapacity)
	if err != nil {
		return fmt.Errorf("invalid capacity %q: %w", createCapacity, err)
	}
	maxRun, err := parseSize(createMaxRun)
	if err != nil {
		return err
	}
	chunk, err := humanize.ParseBytes(createGrowChunk)
	if err != nil {
		return fmt.Errorf("invalid grow chunk %q: %w", createGrowChunk, err)
	}

	opts := arena.DefaultOptions()
	opts.Capacity = int64(capacity)
	opts.MaxRunPages = format.PagesFor(maxRun)
	opts.KnownSize = createKnownSize
	opts.GrowChunk = int64(chunk)
	opts.Creator = createCreator

	if createForce {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove existing file: %w", err)
		}
	}

	printVerbose("Creating arena: %s\n", path)
	a, err := arena.Create(path, &opts)
	if err != nil {
		return fmt.Errorf("failed to create arena: %w", err)
	}
	defer a.Close()

	l := a.Layout()
	result := map[string]any{
		"file":       path,
		"capacity":   a.Capacity(),
		"pages":      l.PageCount,
		"maxRun":     l.MaxRun,
		"knownBase":  l.KnownBase,
		"headerSize": l.HeaderSize,
		"size":       a.Size(),
	}
	if jsonOut {
		return printJSON(result)
	}

	printInfo("\nCreated %s\n", path)
	printInfo("  Capacity: %s (%s pages)\n", humanize.IBytes(uint64(a.Capacity())), numbers.Sprint(l.PageCount))
	printInfo("  Max run: %s (%s pages)\n", humanize.IBytes(uint64(l.MaxRun*format.PageSize)), numbers.Sprint(l.MaxRun))
	printInfo("  Header: %s\n", humanize.IBytes(uint64(l.HeaderSize)))
	if l.KnownBase != 0 {
		printInfo("  Known classes: %d, %d, %d\n", l.KnownBase, l.KnownBase+4, l.KnownBase+8)
	}
	printInfo("  File size: %s\n", humanize.IBytes(uint64(a.Size())))
	return nil
}
