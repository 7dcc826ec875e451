package alloc

import (
	"unsafe"

	"github.com/vkngwrapper/hostmem/internal/utils"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

//go:generate mockgen -destination=mocks/mock_allocator.go -package=mocks github.com/vkngwrapper/hostmem/alloc Allocator

// Allocator is the contract shared by every allocation strategy in this package. Pointers returned
// by Allocate point into memory owned by the allocator and remain valid until they are passed to
// Deallocate or the allocator is destroyed.
type Allocator interface {
	// Allocate returns a block of at least size bytes, or nil if the request is invalid for this
	// allocator or no block can be produced. Flags never cause a request to fail; AllocAligned is
	// best effort for allocators with a fixed block stride.
	Allocate(size int, flags memutils.AllocFlags) unsafe.Pointer
	// Deallocate returns a block to the allocator. Nil pointers, pointers this allocator does not
	// own, and pointers that are not currently allocated are ignored.
	Deallocate(ptr unsafe.Pointer)
	// Owns reports whether ptr is the start of a block tracked by this allocator, whether or not
	// it is currently allocated
	Owns(ptr unsafe.Pointer) bool
	// AllocationSize returns the granted size of the block at ptr, or 0 if ptr is not owned
	AllocationSize(ptr unsafe.Pointer) int
	// ValidatePtr reports whether ptr is owned and currently allocated
	ValidatePtr(ptr unsafe.Pointer) bool
	// Stats returns a copy of the allocator's running counters
	Stats() memutils.Stats
	// ResetStats zeroes the running counters
	ResetStats()
	// CheckCorruption panics if any internal structural invariant is violated
	CheckCorruption()
	// Destroy releases all backing memory, regardless of outstanding allocations
	Destroy()
}

// StatisticsSource is implemented by allocators that can report an occupancy snapshot
type StatisticsSource interface {
	CalculateStatistics(stats *memutils.Statistics)
}

// InPlaceResizer is implemented by allocators that can change the requested size of a live block
// without moving it. Reallocate uses it when available.
type InPlaceResizer interface {
	ResizeInPlace(ptr unsafe.Pointer, newSize int) bool
}

type allocatorBase struct {
	mutex    utils.OptionalMutex
	logger   *slog.Logger
	stats    memutils.Stats
	numaNode int
}

func newAllocatorBase(options CreateOptions) allocatorBase {
	return allocatorBase{
		mutex:    utils.OptionalMutex{UseMutex: options.Flags&CreateExternallySynchronized == 0},
		logger:   options.logger(),
		numaNode: options.NumaNode,
	}
}

func (a *allocatorBase) Stats() memutils.Stats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.stats
}

func (a *allocatorBase) ResetStats() {
	a.mutex.Locked(a.stats.Reset)
}

// NumaNode returns the NUMA node hint recorded for this allocator. It has no effect on placement.
func (a *allocatorBase) NumaNode() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.numaNode
}

func (a *allocatorBase) SetNumaNode(node int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.numaNode = node
}
