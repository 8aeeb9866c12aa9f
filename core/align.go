package core

import "unsafe"

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	CacheLineSize = 64

	// Float64Size is the width of one storage slot in bytes.
	Float64Size = 8
)

// IsAligned checks if an address is aligned to the given power-of-two boundary.
func IsAligned(addr uintptr, align int) bool {
	return addr%uintptr(align) == 0
}

// AlignedFloats allocates a float64 slice whose backing array starts on a
// cache line boundary, so lane-batched loads and stores never straddle lines.
func AlignedFloats(n int) []float64 {
	if n == 0 {
		return nil
	}
	const pad = CacheLineSize / Float64Size
	buf := make([]float64, n+pad-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = int((CacheLineSize - mod) / Float64Size)
	}
	return buf[offset : offset+n : offset+n]
}

// FloatsAligned reports whether the first element of s sits on an align-byte boundary.
func FloatsAligned(s []float64, align int) bool {
	if len(s) == 0 {
		return true
	}
	return IsAligned(uintptr(unsafe.Pointer(&s[0])), align)
}

// MisalignedPrefix returns how many leading elements of s must be processed
// one at a time before &s[k] reaches an align-byte boundary. It returns
// len(s) when the slice never reaches alignment within its length.
func MisalignedPrefix(s []float64, align int) int {
	if len(s) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&s[0]))
	mod := int(addr % uintptr(align))
	if mod == 0 {
		return 0
	}
	if mod%Float64Size != 0 {
		return len(s)
	}
	k := (align - mod) / Float64Size
	if k > len(s) {
		return len(s)
	}
	return k
}
