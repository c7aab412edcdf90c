package arena

// LockDepth reports how many times Lock has been called without a matching
// Unlock.
func (a *Arena) LockDepth() int { return a.lockDepth }

// Lock takes an exclusive advisory lock on the arena file, blocking until it
// is available. Locks nest: only the outermost Lock reaches the file, and only
// the matching outermost Unlock releases it. Memory arenas only count depth.
//
// The outermost Lock also picks up growth made by other handles on the same
// file, so Bytes must be re-fetched after it.
func (a *Arena) Lock() error {
	if a.data == nil {
		return ErrClosed
	}
	if a.lockDepth == 0 && a.f != nil {
		if err := lockFile(a.f); err != nil {
			return err
		}
		if err := a.refresh(); err != nil {
			_ = unlockFile(a.f)
			return err
		}
	}
	a.lockDepth++
	return nil
}

// TryLock is Lock without blocking. It reports false when another descriptor
// holds the lock.
func (a *Arena) TryLock() (bool, error) {
	if a.data == nil {
		return false, ErrClosed
	}
	if a.lockDepth == 0 && a.f != nil {
		ok, err := tryLockFile(a.f)
		if err != nil || !ok {
			return false, err
		}
		if err := a.refresh(); err != nil {
			_ = unlockFile(a.f)
			return false, err
		}
	}
	a.lockDepth++
	return true, nil
}

// Unlock undoes one Lock.
func (a *Arena) Unlock() error {
	if a.lockDepth == 0 {
		return ErrNotLocked
	}
	a.lockDepth--
	if a.lockDepth == 0 && a.f != nil {
		return unlockFile(a.f)
	}
	return nil
}
