package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestExact indicates that a free region of exactly the requested order was found
	AllocationRequestExact AllocationRequestType = iota
	// AllocationRequestSplit indicates that a larger free region was found and will be split down
	// to the requested order when the request is committed
	AllocationRequestSplit
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestExact: "Exact",
	AllocationRequestSplit: "Split",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BuddyBlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. This allocation can be applied to the actual memory system consuming
// memutils, and then committed to the metadata with BuddyBlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size the total size of the allocation, maybe larger than what was originally requested
	Size int
	// Item is a Suballocation object indicating basic information about the allocation
	Item Suballocation
	// Type identifies whether the free region must be split before use
	Type AllocationRequestType

	// AlgorithmData is arbitrary data used by the metadata implementation for internal
	// purposes
	AlgorithmData uint64
}
