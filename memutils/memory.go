package memutils

import (
	"unsafe"
)

// AlignedBytes allocates a zeroed byte slice of the requested size from the Go heap whose first
// byte sits on a multiple of alignment. The slice's capacity is clipped to size.
func AlignedBytes(size int, alignment uint) []byte {
	DebugCheckPow2(alignment, "alignment")

	raw := make([]byte, size+int(alignment)-1)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := AlignUp(int(base), alignment) - int(base)

	return raw[offset : offset+size : offset+size]
}

// ByteView returns a slice over size bytes of memory starting at data
func ByteView(data unsafe.Pointer, size int) []byte {
	if data == nil || size <= 0 {
		return nil
	}

	return unsafe.Slice((*byte)(data), size)
}

// FillPattern writes value across size bytes starting at data
func FillPattern(data unsafe.Pointer, size int, value byte) {
	view := ByteView(data, size)
	for i := range view {
		view[i] = value
	}
}

// CheckPattern reports whether every one of size bytes starting at data holds value
func CheckPattern(data unsafe.Pointer, size int, value byte) bool {
	for _, b := range ByteView(data, size) {
		if b != value {
			return false
		}
	}

	return true
}

// ZeroMemory clears size bytes starting at data
func ZeroMemory(data unsafe.Pointer, size int) {
	FillPattern(data, size, 0)
}

// CopyMemory copies size bytes from src to dst. The ranges may overlap.
func CopyMemory(dst, src unsafe.Pointer, size int) {
	copy(ByteView(dst, size), ByteView(src, size))
}
