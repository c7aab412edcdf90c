package dirty_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/internal/format"
)

func newArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.Create(filepath.Join(t.TempDir(), "ctx.arena"), &arena.Options{Capacity: 64 * format.PageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	_, err = a.Grow(2 * format.PageSize)
	require.NoError(t, err)
	return a
}

func TestTracker_FlushDataOnly_PreCancelled(t *testing.T) {
	tracker := dirty.NewTracker(newArena(t))
	tracker.Add(4096, 100)
	tracker.Add(8192, 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.FlushDataOnly(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, tracker.Len(), "ranges kept for retry")
}

func TestTracker_FlushHeaderAndMeta_PreCancelled(t *testing.T) {
	tracker := dirty.NewTracker(newArena(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, tracker.FlushHeaderAndMeta(ctx, dirty.FlushAuto), context.Canceled)
}

func TestTracker_FlushEmpty_IgnoresContext(t *testing.T) {
	tracker := dirty.NewTracker(newArena(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, tracker.FlushDataOnly(ctx))
}
