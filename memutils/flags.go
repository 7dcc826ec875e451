package memutils

import (
	"strings"
)

// AllocFlags modify the behavior of a single allocation
type AllocFlags uint32

// AllocNone requests no special behavior
const AllocNone AllocFlags = 0

const (
	// AllocZero fills the whole granted block with zeroes before it is returned
	AllocZero AllocFlags = 1 << iota
	// AllocAligned requests a block whose address is a multiple of CacheLineSize. Fixed-size
	// allocators satisfy it only when their block stride is a multiple of CacheLineSize, and
	// otherwise hand out an ordinary MinAlignment-aligned block.
	AllocAligned
	// AllocNumaLocal asks for memory local to the allocator's NUMA node. It is accepted and ignored.
	AllocNumaLocal
	// AllocNoThrow suppresses the panic raised by helpers that otherwise treat a failed
	// allocation as fatal, so that they return nil instead
	AllocNoThrow
)

var allocFlagsMapping = map[AllocFlags]string{
	AllocZero:      "AllocZero",
	AllocAligned:   "AllocAligned",
	AllocNumaLocal: "AllocNumaLocal",
	AllocNoThrow:   "AllocNoThrow",
}

func (f AllocFlags) String() string {
	if f == AllocNone {
		return "AllocNone"
	}

	var names []string
	for bit := AllocZero; bit <= AllocNoThrow; bit <<= 1 {
		if f&bit != 0 {
			names = append(names, allocFlagsMapping[bit])
		}
	}

	return strings.Join(names, "|")
}
