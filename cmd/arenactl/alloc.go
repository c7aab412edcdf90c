package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena/alloc"
)

var allocZero bool

func init() {
	cmd := newAllocCmd()
	cmd.Flags().BoolVarP(&allocZero, "zero", "z", false, "Zero-fill the blocks")
	rootCmd.AddCommand(cmd, newReallocCmd())
}

func newAllocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alloc <file> <size>...",
		Short: "Allocate blocks and print their offsets",
		Long: `The alloc command allocates one block per size argument inside a
single transaction and prints each block's offset and recorded size. Sizes
accept units (512, 4KiB, 1MB).

Example:
  arenactl alloc heap.arena 24 100 8KiB
  arenactl alloc heap.arena 64 --zero --json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlloc(cmd.Context(), args)
		},
	}
	return cmd
}

// Block describes one allocation in command output.
type Block struct {
	Offset   string `json:"offset"`
	Size     int    `json:"size"`
	Recorded int    `json:"recorded"`
}

func runAlloc(ctx context.Context, args []string) error {
	path := args[0]

	sizes := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		n, err := parseSize(a)
		if err != nil {
			return err
		}
		sizes = append(sizes, n)
	}

	s, err := openSession(path)
	if err != nil {
		return err
	}
	defer s.close()

	var blocks []Block
	err = s.tm.Do(ctx, func() error {
		for _, size := range sizes {
			var off alloc.Offset
			var buf []byte
			var err error
			if allocZero {
				off, buf, err = s.al.Calloc(1, size)
			} else {
				off, buf, err = s.al.Alloc(size)
			}
			if err != nil {
				return fmt.Errorf("alloc %d bytes: %w", size, err)
			}
			blocks = append(blocks, Block{Offset: formatOffset(off), Size: size, Recorded: cap(buf)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(blocks)
	}
	for _, b := range blocks {
		printInfo("%s  %s (recorded %s)\n", b.Offset, humanize.IBytes(uint64(b.Size)), humanize.IBytes(uint64(b.Recorded)))
	}
	return nil
}

func newReallocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realloc <file> <offset> <size>",
		Short: "Resize a block",
		Long: `The realloc command resizes the block at offset. The block keeps its
offset when the new size fits its recorded size; otherwise it moves and the
new offset is printed.

Example:
  arenactl realloc heap.arena 0x00011040 200`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRealloc(cmd.Context(), args)
		},
	}
	return cmd
}

func runRealloc(ctx context.Context, args []string) error {
	path := args[0]
	off, err := parseOffset(args[1])
	if err != nil {
		return err
	}
	size, err := parseSize(args[2])
	if err != nil {
		return err
	}

	s, err := openSession(path)
	if err != nil {
		return err
	}
	defer s.close()

	var b Block
	err = s.tm.Do(ctx, func() error {
		newOff, buf, err := s.al.Realloc(off, size)
		if err != nil {
			return fmt.Errorf("realloc %s: %w", formatOffset(off), err)
		}
		b = Block{Offset: formatOffset(newOff), Size: size, Recorded: cap(buf)}
		return nil
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(b)
	}
	if b.Offset != formatOffset(off) {
		printVerbose("Block moved from %s\n", formatOffset(off))
	}
	printInfo("%s  %s (recorded %s)\n", b.Offset, humanize.IBytes(uint64(b.Size)), humanize.IBytes(uint64(b.Recorded)))
	return nil
}
