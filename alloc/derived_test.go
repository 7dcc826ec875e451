package alloc_test

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hostmem/alloc"
	mock_alloc "github.com/vkngwrapper/hostmem/alloc/mocks"
	"github.com/vkngwrapper/hostmem/memutils"
	"go.uber.org/mock/gomock"
)

func TestReallocateNilAllocates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 32)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(24, memutils.AllocNone).Return(ptr)

	require.Equal(t, ptr, alloc.Reallocate(allocator, nil, 24))
}

func TestReallocateZeroFrees(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 32)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Deallocate(ptr)

	require.Nil(t, alloc.Reallocate(allocator, ptr, 0))
}

func TestReallocateCopies(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	oldBacking := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	newBacking := make([]byte, 4)
	oldPtr := unsafe.Pointer(&oldBacking[0])
	newPtr := unsafe.Pointer(&newBacking[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	gomock.InOrder(
		allocator.EXPECT().Allocate(4, memutils.AllocNone).Return(newPtr),
		allocator.EXPECT().AllocationSize(oldPtr).Return(8),
		allocator.EXPECT().Deallocate(oldPtr),
	)

	require.Equal(t, newPtr, alloc.Reallocate(allocator, oldPtr, 4))
	require.Equal(t, []byte{1, 2, 3, 4}, newBacking)
}

func TestReallocateFailureKeepsOriginal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 8)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(100, memutils.AllocNone).Return(unsafe.Pointer(nil))

	require.Nil(t, alloc.Reallocate(allocator, ptr, 100))
}

func TestReallocatePastPoolBlockSize(t *testing.T) {
	pool, err := alloc.NewPool(16, alloc.PoolCreateOptions{InitialPoolSize: 4})
	require.NoError(t, err)

	ptr := pool.Allocate(8, memutils.AllocNone)
	memutils.FillPattern(ptr, 16, 0x5A)

	// Growing past the block size cannot succeed in a pool and leaves the block alone
	require.Nil(t, alloc.Reallocate(pool, ptr, 17))
	require.True(t, pool.ValidatePtr(ptr))
	require.True(t, memutils.CheckPattern(ptr, 16, 0x5A))
}

func TestAlignedAllocateSmallAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := memutils.AlignedBytes(128, memutils.MinAlignment)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(100, memutils.AllocNone).Return(ptr)
	allocator.EXPECT().ValidatePtr(ptr).Return(true)
	allocator.EXPECT().Deallocate(ptr)

	aligned := alloc.AlignedAllocate(allocator, 100, 8)
	require.Equal(t, ptr, aligned)
	alloc.AlignedDeallocate(allocator, aligned)
}

func TestAlignedAllocateLargeAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Start the raw block 16 bytes past a 256-byte boundary
	backing := memutils.AlignedBytes(1024, 256)
	raw := unsafe.Pointer(&backing[16])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(100+256+memutils.PointerSize, memutils.AllocNone).Return(raw)

	aligned := alloc.AlignedAllocate(allocator, 100, 256)
	require.NotNil(t, aligned)
	require.True(t, memutils.IsAligned(uintptr(aligned), 256))
	require.Equal(t, unsafe.Pointer(&backing[256]), aligned)
	require.Equal(t, uintptr(raw), *(*uintptr)(unsafe.Add(aligned, -memutils.PointerSize)))

	allocator.EXPECT().ValidatePtr(aligned).Return(false)
	allocator.EXPECT().Deallocate(raw)
	alloc.AlignedDeallocate(allocator, aligned)
}

func TestAlignedAllocateRejectsBadAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	allocator := mock_alloc.NewMockAllocator(ctrl)

	require.Nil(t, alloc.AlignedAllocate(allocator, 100, 48))
	require.Nil(t, alloc.AlignedAllocate(allocator, 100, 0))
	alloc.AlignedDeallocate(allocator, nil)
}

func TestAlignedAllocateWithAllocators(t *testing.T) {
	pool, err := alloc.NewPool(512, alloc.PoolCreateOptions{InitialPoolSize: 4})
	require.NoError(t, err)
	buddy, err := alloc.NewBuddy(4096, alloc.BuddyCreateOptions{})
	require.NoError(t, err)

	for _, allocator := range []alloc.Allocator{pool, buddy} {
		for _, alignment := range []uint{16, 128, 256} {
			ptr := alloc.AlignedAllocate(allocator, 100, alignment)
			require.NotNil(t, ptr)
			require.True(t, memutils.IsAligned(uintptr(ptr), alignment))
			memutils.FillPattern(ptr, 100, 0x33)

			alloc.AlignedDeallocate(allocator, ptr)
			require.Equal(t, 0, allocator.Stats().LiveCount())
		}

		require.NotPanics(t, allocator.CheckCorruption)
	}
}

func TestMust(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 16)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(16, memutils.AllocZero).Return(ptr)
	allocator.EXPECT().Allocate(32, memutils.AllocNone).Return(unsafe.Pointer(nil))
	allocator.EXPECT().Allocate(32, memutils.AllocNoThrow).Return(unsafe.Pointer(nil))

	require.Equal(t, ptr, alloc.Must(allocator, 16, memutils.AllocZero))

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			require.True(t, errors.Is(r.(error), memutils.ErrOutOfMemory))
		}()
		alloc.Must(allocator, 32, memutils.AllocNone)
	}()

	require.Nil(t, alloc.Must(allocator, 32, memutils.AllocNoThrow))
}

func TestBytes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backing := make([]byte, 16)
	ptr := unsafe.Pointer(&backing[0])

	allocator := mock_alloc.NewMockAllocator(ctrl)
	allocator.EXPECT().ValidatePtr(ptr).Return(true)
	allocator.EXPECT().AllocationSize(ptr).Return(16)
	allocator.EXPECT().ValidatePtr(gomock.Eq(unsafe.Pointer(nil))).Return(false)

	data := alloc.Bytes(allocator, ptr)
	require.Len(t, data, 16)
	data[3] = 9
	require.Equal(t, byte(9), backing[3])

	require.Nil(t, alloc.Bytes(allocator, nil))
}
