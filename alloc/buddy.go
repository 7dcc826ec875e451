package alloc

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/memutils"
	"github.com/vkngwrapper/hostmem/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Buddy hands out power-of-two blocks from a single arena, splitting larger free blocks on demand
// and merging freed blocks with their buddies. Bytes between the requested size and the end of
// each block are guarded and checked by CheckCorruption.
type Buddy struct {
	allocatorBase

	arena     []byte
	base      uintptr
	metadata  *metadata.BuddyBlockMetadata
	destroyed bool
}

var _ Allocator = &Buddy{}
var _ StatisticsSource = &Buddy{}
var _ InPlaceResizer = &Buddy{}

// NewBuddy creates a buddy allocator whose arena is arenaSize rounded up to the next power of two,
// then halved until it fits within the options' MaxArenaSize.
func NewBuddy(arenaSize int, options BuddyCreateOptions) (*Buddy, error) {
	if arenaSize <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "arena size must be positive, but was %d", arenaSize)
	}

	minBlockSize := options.MinBlockSize
	if minBlockSize == 0 {
		minBlockSize = metadata.DefaultMinBlockSize
	}

	err := memutils.CheckPow2(minBlockSize, "MinBlockSize")
	if err != nil {
		return nil, err
	}

	if minBlockSize < int(memutils.MinAlignment) {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "MinBlockSize must be at least %d, but was %d", memutils.MinAlignment, minBlockSize)
	}

	maxOrder := options.MaxOrder
	if maxOrder == 0 {
		maxOrder = metadata.DefaultMaxOrder
	}

	maxArenaSize := options.MaxArenaSize
	if maxArenaSize == 0 {
		maxArenaSize = DefaultMaxArenaSize
	}

	arenaSize = memutils.NextPow2(arenaSize)
	for arenaSize > maxArenaSize {
		arenaSize >>= 1
	}

	if arenaSize < minBlockSize {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "arena size %d is smaller than the minimum block size %d", arenaSize, minBlockSize)
	}

	md, err := metadata.NewBuddyBlockMetadata(minBlockSize, maxOrder)
	if err != nil {
		return nil, err
	}
	md.Init(arenaSize)

	arena := memutils.AlignedBytes(arenaSize, memutils.CacheLineSize)

	return &Buddy{
		allocatorBase: newAllocatorBase(options.CreateOptions),
		arena:         arena,
		base:          uintptr(unsafe.Pointer(&arena[0])),
		metadata:      md,
	}, nil
}

// ArenaSize is the size in bytes of the arena
func (b *Buddy) ArenaSize() int { return len(b.arena) }

// MinBlockSize is the size in bytes of an order-0 block
func (b *Buddy) MinBlockSize() int { return b.metadata.MinBlockSize() }

// MaxOrder is the configured bound on block orders
func (b *Buddy) MaxOrder() int { return b.metadata.MaxOrder() }

// RootOrder is the order of the largest block the arena can produce
func (b *Buddy) RootOrder() int { return b.metadata.RootOrder() }

// FreeListLengths returns the number of free blocks at each order, indexed by order
func (b *Buddy) FreeListLengths() []int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.metadata.FreeListLengths()
}

func (b *Buddy) pointerAt(offset int) unsafe.Pointer {
	return unsafe.Pointer(&b.arena[offset])
}

// handleFor maps a pointer to the metadata handle for the unit it starts, if it lies in the arena
func (b *Buddy) handleFor(ptr unsafe.Pointer) metadata.BlockAllocationHandle {
	address := uintptr(ptr)
	if ptr == nil || b.destroyed || address < b.base || address >= b.base+uintptr(len(b.arena)) {
		return metadata.NoAllocation
	}

	return b.metadata.HandleForOffset(int(address - b.base))
}

func (b *Buddy) Allocate(size int, flags memutils.AllocFlags) unsafe.Pointer {
	requested := size
	if requested < 0 {
		requested = 0
	}

	allocSize := requested
	if flags&memutils.AllocAligned != 0 && allocSize < int(memutils.CacheLineSize) {
		allocSize = int(memutils.CacheLineSize)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return nil
	}

	success, request, err := b.metadata.CreateAllocationRequest(allocSize)
	if err != nil {
		b.logger.LogAttrs(context.Background(), slog.LevelError, "Buddy::Allocate FAILED", slog.Int("Size", size), slog.String("Error", err.Error()))
		return nil
	}

	if !success {
		return nil
	}

	// Zeroed blocks must read as zero across their whole granted size, so they carry no guard
	guarded := requested
	if flags&memutils.AllocZero != 0 {
		guarded = request.Size
	}

	err = b.metadata.Alloc(request, guarded)
	if err != nil {
		b.logger.LogAttrs(context.Background(), slog.LevelError, "Buddy::Allocate FAILED", slog.Int("Size", size), slog.String("Error", err.Error()))
		return nil
	}

	ptr := b.pointerAt(request.Item.Offset)
	if flags&memutils.AllocZero != 0 {
		memutils.ZeroMemory(ptr, request.Size)
	} else {
		memutils.WriteGuard(ptr, requested, request.Size)
	}

	b.stats.RecordAllocation(request.Size, requested)

	return ptr
}

func (b *Buddy) Deallocate(ptr unsafe.Pointer) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	handle := b.handleFor(ptr)
	if handle == metadata.NoAllocation || !b.metadata.IsAllocated(handle) {
		return
	}

	size, err := b.metadata.AllocationSize(handle)
	if err != nil {
		return
	}

	err = b.metadata.Free(handle)
	if err != nil {
		b.logger.LogAttrs(context.Background(), slog.LevelError, "Buddy::Deallocate FAILED", slog.String("Error", err.Error()))
		return
	}

	b.stats.RecordDeallocation(size)
}

// Owns reports whether ptr lies in the arena on a minimum-block boundary. Every such address is
// the start of a block at some point in the arena's life.
func (b *Buddy) Owns(ptr unsafe.Pointer) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.handleFor(ptr) != metadata.NoAllocation
}

// AllocationSize returns the size of the block starting at ptr. Owned addresses inside a larger
// block report the minimum block size.
func (b *Buddy) AllocationSize(ptr unsafe.Pointer) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	handle := b.handleFor(ptr)
	if handle == metadata.NoAllocation {
		return 0
	}

	size, err := b.metadata.AllocationSize(handle)
	if err != nil {
		return b.metadata.MinBlockSize()
	}

	return size
}

func (b *Buddy) ValidatePtr(ptr unsafe.Pointer) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	handle := b.handleFor(ptr)
	return handle != metadata.NoAllocation && b.metadata.IsAllocated(handle)
}

// ResizeInPlace changes the requested size of a live block and moves its guard bytes to match
func (b *Buddy) ResizeInPlace(ptr unsafe.Pointer, newSize int) bool {
	if newSize <= 0 {
		return false
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	handle := b.handleFor(ptr)
	if handle == metadata.NoAllocation || !b.metadata.IsAllocated(handle) {
		return false
	}

	ok, err := b.metadata.Resize(handle, newSize)
	if err != nil || !ok {
		return false
	}

	size, err := b.metadata.AllocationSize(handle)
	if err != nil {
		return false
	}

	memutils.WriteGuard(ptr, newSize, size)
	return true
}

// Validate checks the block metadata and the guard bytes of every live block
func (b *Buddy) Validate() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return nil
	}

	err := b.metadata.Validate()
	if err != nil {
		return errors.Wrap(err, "buddy metadata is inconsistent")
	}

	return b.metadata.CheckCorruption(b.pointerAt(0))
}

func (b *Buddy) CheckCorruption() {
	memutils.MustValidate(b)
}

func (b *Buddy) CalculateStatistics(stats *memutils.Statistics) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return
	}

	b.metadata.AddStatistics(stats)
}

// CalculateDetailedStatistics sums per-block detail about the arena into stats
func (b *Buddy) CalculateDetailedStatistics(stats *memutils.DetailedStatistics) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return
	}

	b.metadata.AddDetailedStatistics(stats)
}

// BuildStatsString returns a json document describing the allocator's counters and occupancy. When
// detailed is true, every block in the arena is listed.
func (b *Buddy) BuildStatsString(detailed bool) string {
	var statistics memutils.DetailedStatistics
	statistics.Clear()
	b.CalculateDetailedStatistics(&statistics)

	b.mutex.Lock()
	defer b.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Type").String("Buddy")

	totalObj := obj.Name("Total").Object()
	b.stats.JsonData(&totalObj)
	totalObj.End()

	occupancyObj := obj.Name("Occupancy").Object()
	statistics.JsonData(&occupancyObj)
	occupancyObj.End()

	if detailed && !b.destroyed {
		arenaObj := obj.Name("Arena").Object()
		b.metadata.BlockJsonData(&arenaObj)

		regions := arenaObj.Name("Blocks").Array()
		_ = b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, requested int, free bool) error {
			regionObj := regions.Object()
			defer regionObj.End()

			regionObj.Name("Offset").Int(offset)
			regionObj.Name("Size").Int(size)
			if free {
				regionObj.Name("Type").String("FREE")
			} else {
				regionObj.Name("Type").String("ALLOCATED")
				regionObj.Name("Requested").Int(requested)
			}
			return nil
		})
		regions.End()

		arenaObj.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func (b *Buddy) Destroy() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return
	}

	_ = b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, requested int, free bool) error {
		if !free {
			b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
				slog.Int("offset", offset),
				slog.Int("size", size),
				slog.Int("requested", requested),
			)
		}
		return nil
	})

	b.metadata.Clear()
	b.arena = nil
	b.destroyed = true
}
