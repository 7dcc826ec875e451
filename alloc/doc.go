// Package alloc provides three host-memory allocation strategies behind the common Allocator
// interface:
//
//   - Pool serves fixed-size blocks from a set of chunks that only ever grows.
//   - Slab serves fixed-size objects from slabs that are released as soon as they become empty.
//   - Buddy serves power-of-two blocks from a single arena, splitting and merging blocks with
//     their buddies.
//
// All memory is carved out of Go byte slices owned by the allocator, so it must never be used to
// hold Go pointers: the garbage collector does not scan it. Every allocator takes an internal lock
// on every operation unless it was created with CreateExternallySynchronized.
//
// Reallocate, AlignedAllocate, AlignedDeallocate, Must and Bytes work with any Allocator.
package alloc
