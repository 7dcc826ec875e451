package metadata

import "math"

// BlockAllocationHandle identifies a region within block metadata. Handles are stable for as long as
// the region they name exists.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

type Suballocation struct {
	Offset    int
	Size      int
	Requested int
}
