package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/alloc"
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/arena/verify"
)

var (
	exerciseRounds     int
	exerciseSlots      int
	exerciseSeed       uint64
	exerciseCapacity   string
	exerciseCheckEvery int
)

func init() {
	cmd := newExerciseCmd()
	cmd.Flags().IntVar(&exerciseRounds, "rounds", 100000, "Number of alloc/free rounds")
	cmd.Flags().IntVar(&exerciseSlots, "slots", 8<<10, "Size of the block table; slot i allocates i bytes")
	cmd.Flags().Uint64Var(&exerciseSeed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&exerciseCapacity, "capacity", "32MiB", "Capacity of the in-memory arena (no file given)")
	cmd.Flags().IntVar(&exerciseCheckEvery, "check-every", 0, "Verify invariants every N rounds (0 = only at the end)")
	rootCmd.AddCommand(cmd)
}

func newExerciseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exercise [file]",
		Short: "Run a random alloc/free workload",
		Long: `The exercise command keeps a table of --slots blocks. Each round
picks a random entry: a live block is checked and freed, an empty entry i is
filled with a fresh allocation of i bytes stamped with a pattern. Invariants
are verified at the end (and every --check-every rounds).

Without a file the workload runs against an in-memory arena. With a file it
runs inside one transaction and leaves its live blocks allocated.

Example:
  arenactl exercise --rounds 1000000
  arenactl exercise heap.arena --rounds 5000 --seed 42 --check-every 500`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExercise(cmd.Context(), args)
		},
	}
	return cmd
}

// ExerciseResult summarizes a workload run.
type ExerciseResult struct {
	Rounds   int           `json:"rounds"`
	Allocs   int           `json:"allocs"`
	Frees    int           `json:"frees"`
	Failures int           `json:"failures"`
	Live     int           `json:"live"`
	Checks   int           `json:"checks"`
	Elapsed  time.Duration `json:"elapsed"`
	Stats    alloc.Stats   `json:"stats"`
	Usage    alloc.Usage   `json:"usage"`
}

// errPattern means a live block was overwritten by another allocation.
var errPattern = errors.New("block contents overwritten")

type workload struct {
	al     *alloc.Allocator
	region interface{ Bytes() []byte }
	rng    *rand.Rand
	table  []alloc.Offset
	check  func() error
	every  int
}

func newWorkload(al *alloc.Allocator, region interface{ Bytes() []byte }, slots int, seed uint64) *workload {
	table := make([]alloc.Offset, slots)
	for i := range table {
		table[i] = alloc.NullOffset
	}
	return &workload{
		al:     al,
		region: region,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		table:  table,
		check:  func() error { return verify.Structure(region.Bytes()) },
	}
}

func stamp(i int) byte { return byte(i*31 + 7) }

func (w *workload) run(ctx context.Context, rounds int) (ExerciseResult, error) {
	var res ExerciseResult
	start := time.Now()
	for round := range rounds {
		if round%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		res.Rounds++

		idx := w.rng.IntN(len(w.table))
		if off := w.table[idx]; off != alloc.NullOffset {
			blk, err := w.al.Block(off)
			if err != nil {
				return res, fmt.Errorf("round %d: block 0x%x: %w", round, off, err)
			}
			for _, b := range blk[:idx] {
				if b != stamp(idx) {
					return res, fmt.Errorf("round %d: block 0x%x (%d bytes): %w", round, off, idx, errPattern)
				}
			}
			if err := w.al.Free(off); err != nil {
				return res, fmt.Errorf("round %d: free 0x%x: %w", round, off, err)
			}
			w.table[idx] = alloc.NullOffset
			res.Frees++
		} else {
			off, buf, err := w.al.Alloc(idx)
			if errors.Is(err, alloc.ErrNoSpace) {
				res.Failures++
				continue
			}
			if err != nil {
				return res, fmt.Errorf("round %d: alloc %d: %w", round, idx, err)
			}
			for i := range buf {
				buf[i] = stamp(idx)
			}
			w.table[idx] = off
			res.Allocs++
		}

		if w.every > 0 && (round+1)%w.every == 0 {
			res.Checks++
			if err := w.check(); err != nil {
				return res, fmt.Errorf("round %d: %w", round, err)
			}
		}
	}

	res.Checks++
	if err := w.check(); err != nil {
		return res, err
	}
	for _, off := range w.table {
		if off != alloc.NullOffset {
			res.Live++
		}
	}
	res.Elapsed = time.Since(start)
	res.Stats = w.al.Stats()
	u, err := w.al.Usage()
	if err != nil {
		return res, err
	}
	res.Usage = u
	return res, nil
}

func runExercise(ctx context.Context, args []string) error {
	if exerciseSlots < 1 {
		return fmt.Errorf("--slots must be positive")
	}

	var (
		res ExerciseResult
		err error
	)
	if len(args) == 1 {
		res, err = exerciseFile(ctx, args[0])
	} else {
		res, err = exerciseMemory(ctx)
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("\nExercise: %s rounds in %s\n", numbers.Sprint(res.Rounds), res.Elapsed.Round(time.Millisecond))
	printInfo("  Allocs: %s  Frees: %s  Failed: %s\n",
		numbers.Sprint(res.Allocs), numbers.Sprint(res.Frees), numbers.Sprint(res.Failures))
	printInfo("  Live blocks: %s\n", numbers.Sprint(res.Live))
	printInfo("  Slot pages created/released: %s/%s\n",
		numbers.Sprint(res.Stats.SlotPagesCreated), numbers.Sprint(res.Stats.SlotPagesReleased))
	printInfo("  Grown: %s in %s steps\n", humanize.IBytes(uint64(res.Stats.GrowBytes)), numbers.Sprint(res.Stats.GrowCalls))
	printInfo("  Committed: %s, in use %s\n", humanize.IBytes(uint64(res.Usage.Top)), humanize.IBytes(uint64(res.Usage.UsedBytes())))
	printInfo("  ✓ Invariants verified %s time(s)\n", numbers.Sprint(res.Checks))
	return nil
}

func exerciseMemory(ctx context.Context) (ExerciseResult, error) {
	capacity, err := humanize.ParseBytes(exerciseCapacity)
	if err != nil {
		return ExerciseResult{}, fmt.Errorf("invalid capacity %q: %w", exerciseCapacity, err)
	}
	opts := arena.DefaultOptions()
	opts.Capacity = int64(capacity)

	a, err := arena.NewMemory(&opts)
	if err != nil {
		return ExerciseResult{}, err
	}
	s, err := newSession(a, dirty.FlushAuto)
	if err != nil {
		return ExerciseResult{}, err
	}
	defer s.close()

	printVerbose("Exercising in-memory arena (%s)\n", humanize.IBytes(capacity))
	w := newWorkload(s.al, s.a, exerciseSlots, exerciseSeed)
	w.every = exerciseCheckEvery
	return w.run(ctx, exerciseRounds)
}

func exerciseFile(ctx context.Context, path string) (ExerciseResult, error) {
	s, err := openSession(path)
	if err != nil {
		return ExerciseResult{}, err
	}
	defer s.close()

	w := newWorkload(s.al, s.a, exerciseSlots, exerciseSeed)
	w.every = exerciseCheckEvery

	var res ExerciseResult
	err = s.tm.Do(ctx, func() error {
		var err error
		res, err = w.run(ctx, exerciseRounds)
		// Stamped bytes are written through the mapping; flush everything.
		s.dt.Add(int(s.al.Layout().HeaderSize), int(s.a.Top())-s.al.Layout().HeaderSize)
		return err
	})
	return res, err
}
