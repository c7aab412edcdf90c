package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/arena/alloc"
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/arena/verify"
	"github.com/joshuapare/arenakit/internal/format"
)

func TestCreateCommand(t *testing.T) {
	resetFlags()
	path := filepath.Join(t.TempDir(), "new.arena")

	output, err := captureOutput(t, func() error { return runCreate([]string{path}) })
	require.NoError(t, err)
	assertContains(t, output, []string{"Created " + path, "Capacity: 1.0 MiB (256 pages)", "Max run: 1.0 MiB"})

	_, err = captureOutput(t, func() error { return runCreate([]string{path}) })
	require.Error(t, err, "existing file replaced without --force")

	createForce = true
	createKnownSize = 40
	jsonOut = true
	output, err = captureOutput(t, func() error { return runCreate([]string{path}) })
	require.NoError(t, err)

	var got map[string]any
	decodeJSON(t, output, &got)
	require.Equal(t, float64(256), got["pages"])
	require.Equal(t, float64(40), got["knownBase"])
}

func TestCreateCommand_InvalidFlags(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
	}{
		{"capacity", func() { createCapacity = "lots" }},
		{"max run", func() { createMaxRun = "-1" }},
		{"grow chunk", func() { createGrowChunk = "3KiB" }},
		{"known size", func() { createKnownSize = 18 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			tt.setup()
			path := filepath.Join(t.TempDir(), "bad.arena")
			_, err := captureOutput(t, func() error { return runCreate([]string{path}) })
			require.Error(t, err)
		})
	}
}

func TestInfoCommand(t *testing.T) {
	path := newArenaFile(t)

	output, err := captureOutput(t, func() error { return runInfo([]string{path}) })
	require.NoError(t, err)
	assertContains(t, output, []string{
		"Creator: arenactl-test",
		"Capacity: 1.0 MiB (256 pages)",
		"Sequence: 0/0",
		"✓ Last transaction completed",
	})

	jsonOut = true
	output, err = captureOutput(t, func() error { return runInfo([]string{path}) })
	require.NoError(t, err)

	var info ArenaInfo
	decodeJSON(t, output, &info)
	require.Equal(t, 256, info.PageCount)
	require.True(t, info.Clean)
	require.Equal(t, uint32(info.HeaderSize), info.Top)
	require.Empty(t, info.Flags)
}

func TestInfoCommand_Missing(t *testing.T) {
	resetFlags()
	_, err := captureOutput(t, func() error {
		return runInfo([]string{filepath.Join(t.TempDir(), "missing.arena")})
	})
	require.Error(t, err)
}

func TestAllocFreeCommands(t *testing.T) {
	path := newArenaFile(t)
	ctx := context.Background()

	jsonOut = true
	output, err := captureOutput(t, func() error { return runAlloc(ctx, []string{path, "24", "8KiB"}) })
	require.NoError(t, err)

	var blocks []Block
	decodeJSON(t, output, &blocks)
	require.Len(t, blocks, 2)
	require.Equal(t, 32, blocks[0].Recorded)
	require.Equal(t, 2*format.PageSize, blocks[1].Recorded)

	// The allocations persisted and the transaction completed.
	output, err = captureOutput(t, func() error { return runInfo([]string{path}) })
	require.NoError(t, err)
	var info ArenaInfo
	decodeJSON(t, output, &info)
	require.True(t, info.Clean)
	require.Equal(t, uint32(1), info.PrimarySeq)
	require.Contains(t, info.Flags, "changed")

	jsonOut = false
	output, err = captureOutput(t, func() error {
		return runFree(ctx, []string{path, blocks[0].Offset, blocks[1].Offset})
	})
	require.NoError(t, err)
	assertContains(t, output, []string{"Released 2 block(s)"})

	// A repeated release is ignored unless strict.
	output, err = captureOutput(t, func() error { return runFree(ctx, []string{path, blocks[1].Offset}) })
	require.NoError(t, err)
	assertContains(t, output, []string{"1 already free"})

	_, err = captureOutput(t, func() error { return runVerify([]string{path}) })
	require.NoError(t, err)

	freeStrict = true
	_, err = captureOutput(t, func() error { return runFree(ctx, []string{path, blocks[1].Offset}) })
	require.ErrorIs(t, err, alloc.ErrDoubleFree)
}

func TestAllocCommand_Zero(t *testing.T) {
	path := newArenaFile(t)
	allocZero = true
	jsonOut = true

	output, err := captureOutput(t, func() error { return runAlloc(context.Background(), []string{path, "100"}) })
	require.NoError(t, err)
	var blocks []Block
	decodeJSON(t, output, &blocks)
	require.Len(t, blocks, 1)
	require.Equal(t, 128, blocks[0].Recorded)
}

func TestAllocCommand_Errors(t *testing.T) {
	path := newArenaFile(t)
	ctx := context.Background()

	_, err := captureOutput(t, func() error { return runAlloc(ctx, []string{path, "ten"}) })
	require.Error(t, err)

	_, err = captureOutput(t, func() error { return runAlloc(ctx, []string{path, "2MiB"}) })
	require.ErrorIs(t, err, alloc.ErrNoSpace)

	// The failed transaction was rolled back and left the marker behind.
	jsonOut = true
	output, err := captureOutput(t, func() error { return runInfo([]string{path}) })
	require.NoError(t, err)
	var info ArenaInfo
	decodeJSON(t, output, &info)
	require.False(t, info.Clean)
}

func TestReallocCommand(t *testing.T) {
	path := newArenaFile(t)
	ctx := context.Background()
	jsonOut = true

	output, err := captureOutput(t, func() error { return runAlloc(ctx, []string{path, "20"}) })
	require.NoError(t, err)
	var blocks []Block
	decodeJSON(t, output, &blocks)

	output, err = captureOutput(t, func() error { return runRealloc(ctx, []string{path, blocks[0].Offset, "30"}) })
	require.NoError(t, err)
	var same Block
	decodeJSON(t, output, &same)
	require.Equal(t, blocks[0].Offset, same.Offset)

	output, err = captureOutput(t, func() error { return runRealloc(ctx, []string{path, blocks[0].Offset, "300"}) })
	require.NoError(t, err)
	var moved Block
	decodeJSON(t, output, &moved)
	require.NotEqual(t, blocks[0].Offset, moved.Offset)
	require.Equal(t, 512, moved.Recorded)
}

func TestCoalesceCommand(t *testing.T) {
	path := newArenaFile(t)
	ctx := context.Background()
	jsonOut = true

	output, err := captureOutput(t, func() error {
		return runAlloc(ctx, []string{path, "4KiB", "4KiB", "4KiB"})
	})
	require.NoError(t, err)
	var blocks []Block
	decodeJSON(t, output, &blocks)

	_, err = captureOutput(t, func() error {
		return runFree(ctx, []string{path, blocks[0].Offset, blocks[1].Offset, blocks[2].Offset})
	})
	require.NoError(t, err)

	output, err = captureOutput(t, func() error { return runCoalesce(ctx, []string{path}) })
	require.NoError(t, err)
	var got map[string]any
	decodeJSON(t, output, &got)
	require.Equal(t, float64(2), got["merged"])
	require.Equal(t, float64(3), got["runsBefore"])
	require.Equal(t, float64(1), got["runsAfter"])

	jsonOut = false
	output, err = captureOutput(t, func() error { return runStats([]string{path}) })
	require.NoError(t, err)
	assertContains(t, output, []string{"Free Runs:", "3 pages: 1"})
}

func TestStatsCommand(t *testing.T) {
	path := newArenaFile(t)
	ctx := context.Background()

	_, err := captureOutput(t, func() error { return runAlloc(ctx, []string{path, "16", "16", "5000"}) })
	require.NoError(t, err)

	jsonOut = true
	output, err := captureOutput(t, func() error { return runStats([]string{path}) })
	require.NoError(t, err)

	var report UsageReport
	decodeJSON(t, output, &report)
	require.Equal(t, 1, report.Usage.LargeBlocks)
	require.Equal(t, 2, report.Usage.LargePages)
	require.Equal(t, 2, report.Usage.Classes[16].LiveSlots)
	require.Equal(t, 1, report.Usage.Classes[16].Pages)
	require.Positive(t, report.Fill)

	jsonOut = false
	output, err = captureOutput(t, func() error { return runStats([]string{path}) })
	require.NoError(t, err)
	assertContains(t, output, []string{"Slot Classes:", "16 bytes: 1 pages, 2 live", "Large Blocks: 1 (2 pages)"})
}

func TestVerifyCommand_Corrupt(t *testing.T) {
	path := newArenaFile(t)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	format.PutU32(data, format.PrimarySeqOffset, 9)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	output, err := captureOutput(t, func() error { return runVerify([]string{path}) })
	require.ErrorIs(t, err, errInvalid)
	assertContains(t, output, []string{"✗ [SequenceNumbers]", "1 problem(s) found"})

	jsonOut = true
	output, err = captureOutput(t, func() error { return runVerify([]string{path}) })
	require.ErrorIs(t, err, errInvalid)

	var got struct {
		Valid    bool      `json:"valid"`
		Findings []Finding `json:"findings"`
	}
	decodeJSON(t, output, &got)
	require.False(t, got.Valid)
	require.Len(t, got.Findings, 1)
	require.Equal(t, "SequenceNumbers", got.Findings[0].Type)
	require.Equal(t, format.PrimarySeqOffset, got.Findings[0].Offset)
}

func TestVerifyCommand_BadHeader(t *testing.T) {
	path := newArenaFile(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(data, "JUNK")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	output, err := captureOutput(t, func() error { return runVerify([]string{path}) })
	require.ErrorIs(t, err, errInvalid)
	assertContains(t, output, []string{"✗ [Header] 0x0: invalid signature"})
}

func TestExerciseCommand_Memory(t *testing.T) {
	resetFlags()
	exerciseCheckEvery = 500
	jsonOut = true

	output, err := captureOutput(t, func() error { return runExercise(context.Background(), nil) })
	require.NoError(t, err)

	var res ExerciseResult
	decodeJSON(t, output, &res)
	require.Equal(t, 2000, res.Rounds)
	require.Equal(t, 5, res.Checks)
	require.Equal(t, res.Rounds, res.Allocs+res.Frees+res.Failures)
	require.Equal(t, res.Allocs-res.Frees, res.Live)
	require.Zero(t, res.Failures)
}

func TestExerciseCommand_File(t *testing.T) {
	path := newArenaFile(t)
	exerciseRounds = 1000
	exerciseSlots = 128

	output, err := captureOutput(t, func() error { return runExercise(context.Background(), []string{path}) })
	require.NoError(t, err)
	assertContains(t, output, []string{"Exercise: 1,000 rounds", "✓ Invariants verified 1 time(s)"})

	_, err = captureOutput(t, func() error { return runVerify([]string{path}) })
	require.NoError(t, err)

	jsonOut = true
	output, err = captureOutput(t, func() error { return runInfo([]string{path}) })
	require.NoError(t, err)
	var info ArenaInfo
	decodeJSON(t, output, &info)
	require.True(t, info.Clean)
}

func TestWorkload_DetectsOverwrite(t *testing.T) {
	resetFlags()
	s := newMemorySession(t)
	w := newWorkload(s.al, s.a, 64, 3)

	res, err := w.run(context.Background(), 200)
	require.NoError(t, err)
	require.Positive(t, res.Live)

	// Scribble over a live block, then drain the table.
	for idx, off := range w.table {
		if off != alloc.NullOffset && idx > 0 {
			s.a.Bytes()[off] ^= 0xFF
			break
		}
	}
	_, err = w.run(context.Background(), 20000)
	require.ErrorIs(t, err, errPattern)
}

func TestWorkload_Cancelled(t *testing.T) {
	resetFlags()
	s := newMemorySession(t)
	w := newWorkload(s.al, s.a, 64, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.run(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParsers(t *testing.T) {
	n, err := parseSize("4KiB")
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	_, err = parseSize("8GiB")
	require.Error(t, err)

	off, err := parseOffset("0x1040")
	require.NoError(t, err)
	require.Equal(t, alloc.Offset(0x1040), off)
	off, err = parseOffset("4160")
	require.NoError(t, err)
	require.Equal(t, alloc.Offset(0x1040), off)
	_, err = parseOffset("0x100000000")
	require.Error(t, err)
	require.Equal(t, "0x00001040", formatOffset(0x1040))

	for _, m := range []dirty.FlushMode{dirty.FlushAuto, dirty.FlushDataOnly, dirty.FlushFull} {
		got, err := parseFlushMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err = parseFlushMode("sometimes")
	require.Error(t, err)
}

func TestCollectFindings(t *testing.T) {
	require.Empty(t, collectFindings(nil))

	a := &verify.ValidationError{Type: "FreeRuns", Message: "a", Offset: 1}
	b := &verify.ValidationError{Type: "PageAccounting", Message: "b", Offset: 2}
	c := &verify.ValidationError{Type: "PageAccounting", Message: "c", Offset: -1}
	other := errors.New("plain")

	got := collectFindings(errors.Join(a, errors.Join(b, c), other))
	require.Len(t, got, 4)
	require.Equal(t, []string{"FreeRuns", "PageAccounting", "PageAccounting", "Error"},
		[]string{got[0].Type, got[1].Type, got[2].Type, got[3].Type})
	require.Equal(t, -1, got[3].Offset)
}

func TestFlagNames(t *testing.T) {
	require.Empty(t, flagNames(0))
	require.Equal(t, []string{"nomem", "changed"}, flagNames(format.FlagNoMem|format.FlagChanged))
	require.Equal(t, []string{"0x10"}, flagNames(0x10))
}

func TestVersionCommand(t *testing.T) {
	resetFlags()
	output, err := captureOutput(t, runVersion)
	require.NoError(t, err)
	assertContains(t, output, []string{"arenactl dev", `Writes format 1.0 "ARNA"`, "4,096 byte pages", "1,048,575 pages"})

	jsonOut = true
	output, err = captureOutput(t, runVersion)
	require.NoError(t, err)
	var v VersionInfo
	decodeJSON(t, output, &v)
	require.Equal(t, "1.0", v.Format)
	require.Equal(t, string(format.Magic), v.Signature)
	require.Equal(t, format.PageSize, v.PageSize)
	require.Equal(t, format.MaxPageCount, v.MaxPages)
}
