package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCoalesceCmd())
}

func newCoalesceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coalesce <file>",
		Short: "Merge adjacent free page runs",
		Long: `Released page runs are never merged automatically. The coalesce
command rebuilds the run lists, merging address-adjacent free runs up to the
arena's max run length.

Example:
  arenactl coalesce heap.arena`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoalesce(cmd.Context(), args)
		},
	}
	return cmd
}

func runCoalesce(ctx context.Context, args []string) error {
	path := args[0]

	s, err := openSession(path)
	if err != nil {
		return err
	}
	defer s.close()

	before, err := s.al.FreeRuns()
	if err != nil {
		return fmt.Errorf("failed to read free runs: %w", err)
	}

	var merged int
	err = s.tm.Do(ctx, func() error {
		var err error
		merged, err = s.al.CoalesceFreeRuns()
		return err
	})
	if err != nil {
		return fmt.Errorf("coalesce: %w", err)
	}

	after, err := s.al.FreeRuns()
	if err != nil {
		return fmt.Errorf("failed to read free runs: %w", err)
	}

	if jsonOut {
		return printJSON(map[string]any{"file": path, "merged": merged, "runsBefore": len(before), "runsAfter": len(after)})
	}
	printInfo("Merged %s run(s): %s free runs -> %s\n", numbers.Sprint(merged), numbers.Sprint(len(before)), numbers.Sprint(len(after)))
	return nil
}
