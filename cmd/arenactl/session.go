package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/alloc"
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/arena/tx"
)

var flushModeName string

func init() {
	rootCmd.PersistentFlags().StringVar(&flushModeName, "flush", "auto", "Commit flush mode (auto, data-only, full)")
}

// session is an opened arena with its allocator and transaction manager
// sharing one dirty tracker.
type session struct {
	a  *arena.Arena
	dt *dirty.Tracker
	al *alloc.Allocator
	tm *tx.Manager
}

func openSession(path string, opts ...alloc.Option) (*session, error) {
	mode, err := parseFlushMode(flushModeName)
	if err != nil {
		return nil, err
	}

	printVerbose("Opening arena: %s\n", path)
	a, err := arena.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open arena: %w", err)
	}
	return newSession(a, mode, opts...)
}

func newSession(a *arena.Arena, mode dirty.FlushMode, opts ...alloc.Option) (*session, error) {
	dt := dirty.NewTracker(a)
	al, err := alloc.New(a, dt, opts...)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return &session{a: a, dt: dt, al: al, tm: tx.NewManager(a, dt, mode)}, nil
}

func (s *session) close() error {
	return s.a.Close()
}

func parseFlushMode(name string) (dirty.FlushMode, error) {
	for _, m := range []dirty.FlushMode{dirty.FlushAuto, dirty.FlushDataOnly, dirty.FlushFull} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown flush mode: %s (must be auto, data-only, or full)", name)
}

// parseSize accepts plain byte counts and humanized sizes such as "64KiB".
func parseSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int(n), nil
}

// parseOffset accepts decimal or 0x-prefixed offsets.
func parseOffset(s string) (alloc.Offset, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return alloc.NullOffset, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return alloc.Offset(v), nil
}

func formatOffset(off alloc.Offset) string {
	return fmt.Sprintf("0x%08X", off)
}
