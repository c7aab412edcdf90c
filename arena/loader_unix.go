//go:build linux || darwin

package arena

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/arenakit/internal/format"
	"github.com/joshuapare/arenakit/internal/logger"
)

func mmap(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Create makes a new arena file at path, which must not exist, and maps it
// read-write. A nil opts means DefaultOptions.
func Create(path string, opts *Options) (*Arena, error) {
	o, l, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, o.Perm)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Arena, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	size := initialSize(l, o.GrowChunk)
	if err := f.Truncate(size); err != nil {
		return fail(fmt.Errorf("arena: size new file: %w", err))
	}
	data, err := mmap(f, size)
	if err != nil {
		return fail(fmt.Errorf("mmap failed: %w", err))
	}

	format.WriteHeader(data, l, o.Creator, time.Now())

	return &Arena{
		f:         f,
		path:      path,
		data:      data,
		size:      size,
		mapped:    true,
		layout:    l,
		growChunk: o.GrowChunk,
	}, nil
}

// Open maps an existing arena file read-write after validating its header.
// Growth uses DefaultGrowChunk.
func Open(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sz := st.Size()
	if sz < format.PageSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: file too small (%d bytes): %s", ErrBadHeader, sz, path)
	}

	data, err := mmap(f, sz)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	l, err := validateHeader(data, sz)
	if err != nil {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, err
	}

	a := &Arena{
		f:         f,
		path:      path,
		data:      data,
		size:      sz,
		mapped:    true,
		layout:    l,
		growChunk: DefaultGrowChunk,
	}
	if !a.IsClean() {
		p, s := a.Sequences()
		logger.Warn("arena was not closed cleanly", "path", path, "primary", p, "secondary", s)
	}
	return a, nil
}

// Close unmaps and closes the arena. Any lock held is released with the
// descriptor.
func (a *Arena) Close() error {
	var err error
	if a.data != nil && a.mapped {
		err = unix.Munmap(a.data)
	}
	a.data = nil
	a.mapped = false
	if a.f != nil {
		err = errors.Join(err, a.f.Close())
		a.f = nil
	}
	a.lockDepth = 0
	return err
}

// Sync flushes the whole mapping to stable storage.
func (a *Arena) Sync() error {
	if a.data == nil {
		return ErrClosed
	}
	if !a.mapped {
		return nil
	}
	return unix.Msync(a.data, unix.MS_SYNC)
}

func (a *Arena) fileSize() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(a.f.Fd()), &st); err != nil {
		return 0, fmt.Errorf("arena: stat: %w", err)
	}
	return st.Size, nil
}

// refresh remaps the file when another handle has extended it past this
// mapping.
func (a *Arena) refresh() error {
	cur, err := a.fileSize()
	if err != nil {
		return err
	}
	if cur <= a.size {
		return nil
	}

	if err := unix.Munmap(a.data); err != nil {
		return fmt.Errorf("arena: failed to unmap before refresh: %w", err)
	}
	a.data = nil

	data, err := mmap(a.f, cur)
	if err != nil {
		a.data, _ = mmap(a.f, a.size)
		return fmt.Errorf("arena: failed to remap grown file: %w", err)
	}
	logger.Debug("arena remapped", "path", a.path, "size", cur, "was", a.size)
	a.data = data
	a.size = cur
	return nil
}

// resize extends the backing file to at least newSize and remaps it. A file
// already longer than newSize is mapped whole and never shortened. On failure
// the previous mapping is restored.
func (a *Arena) resize(newSize int64) error {
	if a.f == nil {
		a.resizeMemory(newSize)
		return nil
	}

	cur, err := a.fileSize()
	if err != nil {
		return err
	}
	extend := newSize > cur
	if !extend {
		newSize = cur
	}

	if err := unix.Munmap(a.data); err != nil {
		return fmt.Errorf("arena: failed to unmap before grow: %w", err)
	}
	a.data = nil

	if extend {
		if err := a.f.Truncate(newSize); err != nil {
			a.data, _ = mmap(a.f, a.size)
			return fmt.Errorf("arena: failed to extend file: %w", err)
		}
	}

	data, err := mmap(a.f, newSize)
	if err != nil {
		if extend {
			_ = a.f.Truncate(cur)
		}
		a.data, _ = mmap(a.f, a.size)
		return fmt.Errorf("arena: failed to remap after grow: %w", err)
	}

	a.data = data
	a.size = newSize
	return nil
}
