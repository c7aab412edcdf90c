package format

// AlignPage returns n rounded up to the next page boundary.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n int) int {
	return (n + PageMask) &^ PageMask
}

// AlignPage64 is the int64 form of AlignPage, used for file sizes.
func AlignPage64(n int64) int64 {
	return (n + PageMask) &^ PageMask
}

// AlignUp64 rounds n up to a multiple of align, which must be a power of two.
func AlignUp64(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// PagesFor returns how many whole pages are needed to hold n bytes.
func PagesFor(n int) int {
	return (n + PageMask) >> PageShift
}

// PageOf returns the page index containing off.
func PageOf(off uint32) int {
	return int(off >> PageShift)
}

// PageStart returns the offset of the page containing off.
func PageStart(off uint32) uint32 {
	return off &^ PageMask
}

// IsPow2 reports whether n is a power of two.
func IsPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
