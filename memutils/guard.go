package memutils

import "unsafe"

const (
	// GuardSize is the number of guard bytes written after the requested size of an allocation when
	// the granted block has room for them
	GuardSize int = 8
	// GuardPattern is the byte value guard regions are filled with
	GuardPattern byte = 0xFD
)

// GuardLength returns how many guard bytes fit between requested and granted sizes
func GuardLength(requested, granted int) int {
	room := granted - requested
	if room > GuardSize {
		return GuardSize
	}
	if room < 0 {
		return 0
	}
	return room
}

// WriteGuard stamps GuardPattern over the guard region following the first requested bytes at data
func WriteGuard(data unsafe.Pointer, requested, granted int) {
	FillPattern(unsafe.Add(data, requested), GuardLength(requested, granted), GuardPattern)
}

// ValidateGuard reports whether the guard region written by WriteGuard is intact
func ValidateGuard(data unsafe.Pointer, requested, granted int) bool {
	return CheckPattern(unsafe.Add(data, requested), GuardLength(requested, granted), GuardPattern)
}
