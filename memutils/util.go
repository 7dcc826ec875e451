package memutils

import (
	"math/bits"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

const (
	// MinAlignment is the alignment every block handed out by this module satisfies
	MinAlignment uint = 16
	// CacheLineSize is the alignment requested by AllocAligned
	CacheLineSize uint = 64
	// PageSize is the default slab size
	PageSize int = 4096
	// PointerSize is the size in bytes of a machine word
	PointerSize int = int(unsafe.Sizeof(uintptr(0)))
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned reports whether the address is a multiple of alignment, which must be a power of two
func IsAligned(address uintptr, alignment uint) bool {
	return address&uintptr(alignment-1) == 0
}

// MaxPow2 is the largest power of two an int can hold
const MaxPow2 int = 1 << (bits.UintSize - 2)

// NextPow2 returns the smallest power of two that is greater than or equal to value. Values below 1
// return 1, and values above MaxPow2 saturate to MaxPow2.
func NextPow2(value int) int {
	if value <= 1 {
		return 1
	}

	if value > MaxPow2 {
		return MaxPow2
	}

	return 1 << bits.Len(uint(value-1))
}

// Log2 returns the base-2 logarithm of value, rounded down. It returns -1 for values below 1.
func Log2(value int) int {
	if value < 1 {
		return -1
	}

	return bits.Len(uint(value)) - 1
}
