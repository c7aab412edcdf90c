//go:build !linux && !darwin

package dirty

import "context"

// Arenas are never mapped on these platforms; Region.Sync does the work.

func (t *Tracker) flushRanges(context.Context, []byte) error { return nil }

func msync([]byte) error { return nil }

func fdatasync(int, bool) error { return nil }
