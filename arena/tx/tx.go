// Package tx brackets arena modifications in transactions.
//
// The manager owns the header protocol fields (sequence numbers, change time,
// FlagChanged) and coordinates the ordered flush of dirty ranges.
//
// Transaction Protocol:
//  1. Begin() - Lock the arena, increment PrimarySeq
//  2. [Allocate and write - tracked by the DirtyTracker]
//  3. Commit() - Flush data ranges, set SecondarySeq=PrimarySeq, flush header, unlock
//
// Crash Recovery:
// If a process dies between Begin() and Commit(), PrimarySeq != SecondarySeq
// and arena.Open logs a warning; verify.SequenceNumbers reports it.
package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/dirty"
	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

// ErrNoTransaction is returned by Do when fn ends the transaction itself.
var ErrNoTransaction = errors.New("tx: no active transaction")

// Manager handles sequence numbers, the arena lock and ordered flushes.
//
// The manager is NOT thread-safe. Only one goroutine should use it at a time.
type Manager struct {
	a    *arena.Arena
	dt   dirty.FlushableTracker
	mode dirty.FlushMode
	seq  uint32
	inTx bool
	now  func() time.Time
}

// NewManager creates a transaction manager for a.
//
// Parameters:
//   - a: the arena to manage transactions for
//   - dt: dirty tracker shared with the allocator
//   - mode: flush mode for commits
func NewManager(a *arena.Arena, dt dirty.FlushableTracker, mode dirty.FlushMode) *Manager {
	return &Manager{a: a, dt: dt, mode: mode, now: time.Now}
}

// Begin locks the arena and opens a transaction by incrementing PrimarySeq.
// Calling Begin inside a transaction is a no-op.
func (m *Manager) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.inTx {
		return nil
	}

	if err := m.a.Lock(); err != nil {
		return fmt.Errorf("tx: lock: %w", err)
	}

	// Read after locking: another process may have committed meanwhile.
	primary, _ := m.a.Sequences()
	m.seq = primary + 1
	data := m.a.Bytes()
	format.PutU32(data, format.PrimarySeqOffset, m.seq)
	m.a.Touch(m.now())
	m.dt.Add(0, format.TablesOffset)

	m.inTx = true
	logger.Debug("tx begin", "seq", m.seq)
	return nil
}

// Commit finalizes the transaction using the ordered flush protocol:
//
//  1. Flush dirty data ranges (msync)
//  2. Set SecondarySeq = PrimarySeq, FlagChanged and the change time
//  3. Flush the header (msync, then fdatasync per FlushMode) and reset the tracker
//  4. Release the arena lock
//
// On error the transaction stays open and the lock held; call Rollback.
// Commit without a transaction is a no-op.
func (m *Manager) Commit(ctx context.Context) error {
	if !m.inTx {
		return nil
	}

	if err := m.dt.FlushDataOnly(ctx); err != nil {
		return fmt.Errorf("flush data pages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	format.PutU32(m.a.Bytes(), format.SecondarySeqOffset, m.seq)
	m.a.SetFlags(format.FlagChanged)
	m.a.Touch(m.now())
	m.dt.Add(0, format.TablesOffset)

	if err := m.dt.FlushHeaderAndMeta(ctx, m.mode); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}
	m.dt.Reset()

	m.inTx = false
	logger.Debug("tx commit", "seq", m.seq)
	if err := m.a.Unlock(); err != nil {
		return fmt.Errorf("tx: unlock: %w", err)
	}
	return nil
}

// Rollback abandons the transaction and releases the lock.
//
// Modifications already written are NOT undone and PrimarySeq is left ahead
// of SecondarySeq, so the arena reads as interrupted until the next commit.
func (m *Manager) Rollback() {
	if !m.inTx {
		return
	}
	m.inTx = false
	logger.Warn("tx rolled back", "seq", m.seq)
	if err := m.a.Unlock(); err != nil {
		logger.Error("tx: unlock after rollback", "err", err)
	}
}

// Do runs fn inside a transaction, committing when fn returns nil and rolling
// back otherwise. Inside an open transaction fn simply joins it.
func (m *Manager) Do(ctx context.Context, fn func() error) error {
	if m.inTx {
		return fn()
	}
	if err := m.Begin(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		m.Rollback()
		return err
	}
	if !m.inTx {
		return ErrNoTransaction
	}
	if err := m.Commit(ctx); err != nil {
		m.Rollback()
		return err
	}
	return nil
}

// InTransaction returns whether a transaction is currently active.
func (m *Manager) InTransaction() bool {
	return m.inTx
}

// CurrentSequence returns the sequence number of the current or last
// transaction.
func (m *Manager) CurrentSequence() uint32 {
	return m.seq
}
