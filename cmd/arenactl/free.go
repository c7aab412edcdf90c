package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena/alloc"
)

var freeStrict bool

func init() {
	cmd := newFreeCmd()
	cmd.Flags().BoolVar(&freeStrict, "strict", false, "Fail on blocks that are already free")
	rootCmd.AddCommand(cmd)
}

func newFreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "free <file> <offset>...",
		Short: "Release blocks",
		Long: `The free command releases the blocks at the given offsets inside a
single transaction. Offsets are decimal or 0x-prefixed hex, as printed by
alloc. Releasing an already free block is ignored unless --strict is set.

Example:
  arenactl free heap.arena 0x00011040 0x00014000
  arenactl free heap.arena 69696 --strict`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFree(cmd.Context(), args)
		},
	}
	return cmd
}

func runFree(ctx context.Context, args []string) error {
	path := args[0]

	offsets := make([]alloc.Offset, 0, len(args)-1)
	for _, a := range args[1:] {
		off, err := parseOffset(a)
		if err != nil {
			return err
		}
		offsets = append(offsets, off)
	}

	var opts []alloc.Option
	if freeStrict {
		opts = append(opts, alloc.WithStrictFree())
	}
	s, err := openSession(path, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	freed := make([]string, 0, len(offsets))
	err = s.tm.Do(ctx, func() error {
		for _, off := range offsets {
			printVerbose("Releasing %s\n", formatOffset(off))
			if err := s.al.Free(off); err != nil {
				return fmt.Errorf("free %s: %w", formatOffset(off), err)
			}
			freed = append(freed, formatOffset(off))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"file": path, "freed": freed, "doubleFrees": s.al.Stats().DoubleFrees})
	}
	printInfo("Released %d block(s)\n", len(freed))
	if n := s.al.Stats().DoubleFrees; n > 0 {
		printInfo("  %d already free\n", n)
	}
	return nil
}
