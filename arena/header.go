package arena

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/arenakit/internal/format"
)

// validateHeader checks the control header of an image of fileSize bytes and
// returns its layout. The free-list tables are trusted as-is.
func validateHeader(data []byte, fileSize int64) (format.Layout, error) {
	if len(data) < format.TablesOffset {
		return format.Layout{}, fmt.Errorf("%w: image too small (%d bytes)", ErrBadHeader, len(data))
	}
	if !bytes.Equal(data[format.MagicOffset:format.MagicOffset+len(format.Magic)], format.Magic) {
		return format.Layout{}, fmt.Errorf("%w: %w", ErrBadHeader, format.ErrSignatureMismatch)
	}
	if data[format.EndianOffset] != format.EndianLittle {
		return format.Layout{}, fmt.Errorf("%w: unsupported byte order marker 0x%02x", ErrBadHeader, data[format.EndianOffset])
	}
	if v := data[format.MajorOffset]; v != format.MajorVersion {
		return format.Layout{}, fmt.Errorf("%w: unsupported major version %d", ErrBadHeader, v)
	}

	l, err := format.ReadLayout(data)
	if err != nil {
		return format.Layout{}, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	if c := int64(format.ReadU32(data, format.CapacityOffset)); c != l.Capacity() {
		return format.Layout{}, fmt.Errorf("%w: capacity %d does not match %d pages", ErrBadHeader, c, l.PageCount)
	}

	top := int64(format.ReadU32(data, format.TopOffset))
	switch {
	case top%format.PageSize != 0:
		return format.Layout{}, fmt.Errorf("%w: top 0x%x not page aligned", ErrBadHeader, top)
	case top < int64(l.HeaderSize):
		return format.Layout{}, fmt.Errorf("%w: top 0x%x inside header (0x%x)", ErrBadHeader, top, l.HeaderSize)
	case top > l.Capacity():
		return format.Layout{}, fmt.Errorf("%w: top 0x%x beyond capacity 0x%x", ErrBadHeader, top, l.Capacity())
	case top > fileSize:
		return format.Layout{}, fmt.Errorf("%w: top 0x%x beyond end of file (0x%x)", ErrBadHeader, top, fileSize)
	}
	return l, nil
}
