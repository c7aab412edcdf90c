package format

import "errors"

var (
	// ErrSignatureMismatch indicates the image does not start with Magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrGeometry indicates header geometry fields that cannot describe a valid layout.
	ErrGeometry = errors.New("format: invalid geometry")
)
