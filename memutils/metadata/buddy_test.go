package metadata_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/memutils"
	"github.com/vkngwrapper/hostmem/memutils/metadata"
)

func newBuddy(t *testing.T, size int) *metadata.BuddyBlockMetadata {
	buddy, err := metadata.NewBuddyBlockMetadata(16, metadata.DefaultMaxOrder)
	require.NoError(t, err)
	buddy.Init(size)
	require.NoError(t, buddy.Validate())
	return buddy
}

func allocBuddy(t *testing.T, buddy *metadata.BuddyBlockMetadata, size int) metadata.BlockAllocationHandle {
	success, req, err := buddy.CreateAllocationRequest(size)
	require.NoError(t, err)
	require.True(t, success)

	err = buddy.Alloc(req, size)
	require.NoError(t, err)
	require.NoError(t, buddy.Validate())

	return req.BlockAllocationHandle
}

func TestBuddyBasicAlloc(t *testing.T) {
	buddy := newBuddy(t, 1024)

	var stats memutils.DetailedStatistics
	stats.Clear()
	buddy.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1024,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1024,
		UnusedRangeSizeMax: 1024,
	}, stats)

	success, req, err := buddy.CreateAllocationRequest(100)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 128, req.Size)
	require.Equal(t, 0, req.Item.Offset)
	require.Equal(t, metadata.AllocationRequestSplit, req.Type)

	err = buddy.Alloc(req, 100)
	require.NoError(t, err)
	require.NoError(t, buddy.Validate())

	stats.Clear()
	buddy.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1024,
			AllocationCount: 1,
			AllocationBytes: 128,
		},
		UnusedRangeCount:   3,
		AllocationSizeMin:  128,
		AllocationSizeMax:  128,
		UnusedRangeSizeMin: 128,
		UnusedRangeSizeMax: 512,
	}, stats)

	requested, err := buddy.AllocationRequested(req.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, 100, requested)

	err = buddy.Free(req.BlockAllocationHandle)
	require.NoError(t, err)
	require.NoError(t, buddy.Validate())

	stats.Clear()
	buddy.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1024,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1024,
		UnusedRangeSizeMax: 1024,
	}, stats)
	require.True(t, buddy.IsEmpty())
}

func TestBuddySizeClamping(t *testing.T) {
	buddy := newBuddy(t, 1024)

	require.Equal(t, 0, buddy.OrderForSize(0))
	require.Equal(t, 0, buddy.OrderForSize(-5))
	require.Equal(t, 0, buddy.OrderForSize(16))
	require.Equal(t, 1, buddy.OrderForSize(17))
	require.Equal(t, 6, buddy.OrderForSize(1024))
	require.Equal(t, 7, buddy.OrderForSize(1025))
	require.Equal(t, 7, buddy.OrderForSize(math.MaxInt))

	for _, size := range []int{memutils.MaxPow2 + 1, math.MaxInt} {
		success, _, err := buddy.CreateAllocationRequest(size)
		require.NoError(t, err)
		require.False(t, success)
	}

	handle := allocBuddy(t, buddy, 0)
	size, err := buddy.AllocationSize(handle)
	require.NoError(t, err)
	require.Equal(t, 16, size)

	success, _, err := buddy.CreateAllocationRequest(1025)
	require.NoError(t, err)
	require.False(t, success)
}

func TestBuddyRoundTripRestoresFreeLists(t *testing.T) {
	buddy := newBuddy(t, 4096)

	// Fragment the arena first so the round trip happens against a non-trivial state
	keep := allocBuddy(t, buddy, 48)
	_ = allocBuddy(t, buddy, 300)

	// Orders above 6 no longer fit after the fragmenting allocations above
	for order := 0; order <= 6; order++ {
		before := buddy.FreeListLengths()

		handle := allocBuddy(t, buddy, 16<<order)
		require.NotEqual(t, before, buddy.FreeListLengths())

		require.NoError(t, buddy.Free(handle))
		require.NoError(t, buddy.Validate())
		require.Equal(t, before, buddy.FreeListLengths(), "order %d", order)
	}

	require.NoError(t, buddy.Free(keep))
	require.NoError(t, buddy.Validate())
}

func TestBuddyMergesBackToRoot(t *testing.T) {
	buddy := newBuddy(t, 256)

	handles := make([]metadata.BlockAllocationHandle, 0, 16)
	for i := 0; i < 16; i++ {
		handles = append(handles, allocBuddy(t, buddy, 16))
	}

	success, _, err := buddy.CreateAllocationRequest(1)
	require.NoError(t, err)
	require.False(t, success)
	require.Equal(t, 0, buddy.SumFreeSize())

	// Free in an interleaved order so that merges happen out of address order
	for _, i := range []int{3, 0, 15, 7, 1, 2, 12, 4, 5, 6, 8, 10, 9, 11, 13, 14} {
		require.NoError(t, buddy.Free(handles[i]))
		require.NoError(t, buddy.Validate())
	}

	require.Equal(t, []int{0, 0, 0, 0, 1}, buddy.FreeListLengths())
	require.Equal(t, 256, buddy.SumFreeSize())
	require.Equal(t, 1, buddy.FreeRegionsCount())
}

func TestBuddyMultipleRoots(t *testing.T) {
	buddy, err := metadata.NewBuddyBlockMetadata(16, 2)
	require.NoError(t, err)
	buddy.Init(256)
	require.NoError(t, buddy.Validate())

	require.Equal(t, 2, buddy.RootOrder())
	require.Equal(t, 64, buddy.MaxBlockSize())
	require.Equal(t, []int{0, 0, 4}, buddy.FreeListLengths())

	success, _, err := buddy.CreateAllocationRequest(65)
	require.NoError(t, err)
	require.False(t, success)

	handle := allocBuddy(t, buddy, 16)
	require.Equal(t, []int{1, 1, 3}, buddy.FreeListLengths())

	require.NoError(t, buddy.Free(handle))
	require.NoError(t, buddy.Validate())
	require.Equal(t, []int{0, 0, 4}, buddy.FreeListLengths())
}

func TestBuddyInvalidHandles(t *testing.T) {
	buddy := newBuddy(t, 1024)

	handle := allocBuddy(t, buddy, 32)
	require.True(t, buddy.IsAllocated(handle))

	require.NoError(t, buddy.Free(handle))
	require.False(t, buddy.IsAllocated(handle))
	require.Error(t, buddy.Free(handle))

	require.Error(t, buddy.Free(metadata.BlockAllocationHandle(1)))
	require.Error(t, buddy.Free(metadata.NoAllocation))
	require.Equal(t, metadata.NoAllocation, buddy.HandleForOffset(8))
	require.Equal(t, metadata.NoAllocation, buddy.HandleForOffset(1024))
	require.Equal(t, metadata.BlockAllocationHandle(2), buddy.HandleForOffset(32))
}

func TestBuddyStaleRequest(t *testing.T) {
	buddy := newBuddy(t, 1024)

	success, req, err := buddy.CreateAllocationRequest(64)
	require.NoError(t, err)
	require.True(t, success)

	require.NoError(t, buddy.Alloc(req, 64))
	require.Error(t, buddy.Alloc(req, 64))
	require.NoError(t, buddy.Validate())
}

func TestBuddyResize(t *testing.T) {
	buddy := newBuddy(t, 1024)
	handle := allocBuddy(t, buddy, 20)

	ok, err := buddy.Resize(handle, 32)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = buddy.Resize(handle, 33)
	require.NoError(t, err)
	require.False(t, ok)

	requested, err := buddy.AllocationRequested(handle)
	require.NoError(t, err)
	require.Equal(t, 32, requested)
}

func TestBuddyCheckCorruption(t *testing.T) {
	buddy := newBuddy(t, 1024)
	arena := memutils.AlignedBytes(1024, memutils.CacheLineSize)
	data := unsafe.Pointer(&arena[0])

	handle := allocBuddy(t, buddy, 20)
	offset, err := buddy.AllocationOffset(handle)
	require.NoError(t, err)
	memutils.WriteGuard(unsafe.Add(data, offset), 20, 32)

	full := allocBuddy(t, buddy, 16)
	require.NotEqual(t, handle, full)

	require.NoError(t, buddy.CheckCorruption(data))

	arena[offset+20] = 0
	err = buddy.CheckCorruption(data)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrCorruption))
}

func TestBuddyClear(t *testing.T) {
	buddy := newBuddy(t, 1024)
	allocBuddy(t, buddy, 100)
	allocBuddy(t, buddy, 16)

	buddy.Clear()
	require.NoError(t, buddy.Validate())
	require.True(t, buddy.IsEmpty())
	require.Equal(t, 1024, buddy.SumFreeSize())
}

func TestBuddyJsonData(t *testing.T) {
	buddy := newBuddy(t, 1024)
	allocBuddy(t, buddy, 100)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	buddy.BlockJsonData(&obj)
	obj.End()

	require.JSONEq(t, `{
		"TotalBytes": 1024,
		"UnusedBytes": 896,
		"Allocations": 1,
		"UnusedRanges": 3,
		"MinBlockSize": 16,
		"RootOrder": 6,
		"FreeBlocksByOrder": [0, 0, 0, 1, 1, 1, 0]
	}`, string(writer.Bytes()))
}
