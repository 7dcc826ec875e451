package alloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/hostmem/memutils"
)

// Reallocate resizes the block at ptr to newSize bytes, returning the block's new address. A nil ptr
// allocates a fresh block and a newSize of 0 frees ptr and returns nil. The contents are kept in
// place if the allocator supports it and the block is large enough; otherwise a new block is
// allocated, the overlapping bytes copied and the old block freed. If a new block cannot be
// allocated, nil is returned and ptr is left untouched.
func Reallocate(allocator Allocator, ptr unsafe.Pointer, newSize int) unsafe.Pointer {
	if ptr == nil {
		return allocator.Allocate(newSize, memutils.AllocNone)
	}

	if newSize <= 0 {
		allocator.Deallocate(ptr)
		return nil
	}

	resizer, canResize := allocator.(InPlaceResizer)
	if canResize && resizer.ResizeInPlace(ptr, newSize) {
		return ptr
	}

	newPtr := allocator.Allocate(newSize, memutils.AllocNone)
	if newPtr == nil {
		return nil
	}

	copySize := allocator.AllocationSize(ptr)
	if newSize < copySize {
		copySize = newSize
	}
	memutils.CopyMemory(newPtr, ptr, copySize)

	allocator.Deallocate(ptr)
	return newPtr
}

// AlignedAllocate returns a block of at least size bytes whose address is a multiple of alignment,
// which must be a power of two. Alignments no larger than memutils.MinAlignment are already
// satisfied by every allocator and are served by Allocate directly. Larger alignments over-allocate
// and record the underlying block's address in the word just before the returned address. Blocks
// returned by AlignedAllocate must be freed with AlignedDeallocate.
func AlignedAllocate(allocator Allocator, size int, alignment uint) unsafe.Pointer {
	if memutils.CheckPow2(alignment, "alignment") != nil {
		return nil
	}

	if alignment <= memutils.MinAlignment {
		return allocator.Allocate(size, memutils.AllocNone)
	}

	raw := allocator.Allocate(size+int(alignment)+memutils.PointerSize, memutils.AllocNone)
	if raw == nil {
		return nil
	}

	rawAddress := uintptr(raw)
	offset := memutils.AlignUp(int(rawAddress)+memutils.PointerSize, alignment) - int(rawAddress)

	aligned := unsafe.Add(raw, offset)
	*(*uintptr)(unsafe.Add(aligned, -memutils.PointerSize)) = rawAddress

	return aligned
}

// AlignedDeallocate frees a block returned by AlignedAllocate
func AlignedDeallocate(allocator Allocator, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	// Small alignments hand out the underlying block unchanged
	if allocator.ValidatePtr(ptr) {
		allocator.Deallocate(ptr)
		return
	}

	rawAddress := *(*uintptr)(unsafe.Add(ptr, -memutils.PointerSize))
	raw := unsafe.Add(ptr, -int(uintptr(ptr)-rawAddress))
	allocator.Deallocate(raw)
}

// Must allocates like Allocator.Allocate, but panics with an error wrapping memutils.ErrOutOfMemory
// if the allocation fails, unless flags include memutils.AllocNoThrow
func Must(allocator Allocator, size int, flags memutils.AllocFlags) unsafe.Pointer {
	ptr := allocator.Allocate(size, flags)
	if ptr == nil && flags&memutils.AllocNoThrow == 0 {
		panic(errors.Wrapf(memutils.ErrOutOfMemory, "allocating %d bytes with flags %s", size, flags))
	}

	return ptr
}

// Bytes returns a slice over the whole granted block at ptr, or nil if ptr is not currently allocated
func Bytes(allocator Allocator, ptr unsafe.Pointer) []byte {
	if !allocator.ValidatePtr(ptr) {
		return nil
	}

	return memutils.ByteView(ptr, allocator.AllocationSize(ptr))
}
