package arena

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/arenakit/internal/buf"
)

// OffsetOf converts a pointer into the current mapping to its offset from the
// arena base. Pointers outside the mapping yield NullOffset.
func (a *Arena) OffsetOf(p unsafe.Pointer) Offset {
	if p == nil || len(a.data) == 0 {
		return NullOffset
	}
	base := uintptr(unsafe.Pointer(&a.data[0]))
	addr := uintptr(p)
	if addr < base || addr-base >= uintptr(len(a.data)) {
		return NullOffset
	}
	return Offset(addr - base)
}

// Pointer converts an offset to a pointer into the current mapping, or nil
// for NullOffset and offsets past the end. The pointer is invalidated by any
// growth.
func (a *Arena) Pointer(off Offset) unsafe.Pointer {
	if off == NullOffset || int64(off) >= int64(len(a.data)) {
		return nil
	}
	return unsafe.Pointer(&a.data[off])
}

// Slice returns the n bytes at off. The slice aliases the mapping and is
// invalidated by any growth.
func (a *Arena) Slice(off Offset, n int) ([]byte, error) {
	b, ok := buf.Slice(a.data, int(off), n)
	if !ok || off == NullOffset {
		return nil, fmt.Errorf("%w: [0x%x, +%d) of %d", ErrOutOfRange, off, n, len(a.data))
	}
	return b, nil
}
