//go:build !linux && !darwin

package arena

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joshuapare/arenakit/internal/format"
)

// Create makes a new arena file at path and loads it into memory. Changes
// reach the file on Sync and Close.
func Create(path string, opts *Options) (*Arena, error) {
	o, l, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, o.Perm)
	if err != nil {
		return nil, err
	}

	size := initialSize(l, o.GrowChunk)
	a := &Arena{
		f:         f,
		path:      path,
		data:      make([]byte, size),
		size:      size,
		layout:    l,
		growChunk: o.GrowChunk,
	}
	format.WriteHeader(a.data, l, o.Creator, time.Now())
	if err := a.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return a, nil
}

// Open loads an existing arena file into memory after validating its header.
func Open(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sz := st.Size()

	buf := make([]byte, sz)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, err
	}

	l, err := validateHeader(buf, sz)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Arena{
		f:         f,
		path:      path,
		data:      buf,
		size:      sz,
		layout:    l,
		growChunk: DefaultGrowChunk,
	}, nil
}

func (a *Arena) Close() error {
	var err error
	if a.f != nil && a.data != nil {
		err = a.Sync()
	}
	if a.f != nil {
		err = errors.Join(err, a.f.Close())
		a.f = nil
	}
	a.data = nil
	a.lockDepth = 0
	return err
}

// Sync writes the whole buffer back to the file.
func (a *Arena) Sync() error {
	if a.data == nil {
		return ErrClosed
	}
	if a.f == nil {
		return nil
	}
	if _, err := a.f.WriteAt(a.data, 0); err != nil {
		return fmt.Errorf("arena: write back: %w", err)
	}
	return a.f.Sync()
}

func (a *Arena) fileSize() (int64, error) {
	st, err := a.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("arena: stat: %w", err)
	}
	return st.Size(), nil
}

// refresh reloads the file when another handle has extended it. Unsynced
// changes held by this handle are replaced by the file contents.
func (a *Arena) refresh() error {
	cur, err := a.fileSize()
	if err != nil {
		return err
	}
	if cur <= a.size {
		return nil
	}
	data := make([]byte, cur)
	if _, err := a.f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("arena: reload: %w", err)
	}
	a.data = data
	a.size = cur
	return nil
}

// resize never shortens the file below its current length.
func (a *Arena) resize(newSize int64) error {
	if a.f != nil {
		cur, err := a.fileSize()
		if err != nil {
			return err
		}
		if newSize > cur {
			if err := a.f.Truncate(newSize); err != nil {
				return fmt.Errorf("arena: failed to extend file: %w", err)
			}
		} else {
			newSize = cur
		}
	}
	a.resizeMemory(newSize)
	return nil
}
