package metadata

import (
	"math"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/hostmem/memutils"
)

const (
	// DefaultMinBlockSize is the size in bytes of an order-0 buddy block when none is specified
	DefaultMinBlockSize int = 16
	// DefaultMaxOrder is the largest order a buddy block may reach when none is specified
	DefaultMaxOrder int = 20

	noUnit int32 = -1
)

type buddyRecord struct {
	order     uint8
	head      bool
	free      bool
	requested int32

	prevFree int32
	nextFree int32
}

// BuddyBlockMetadata tracks a power-of-two arena as a set of power-of-two blocks. Every minimum-sized
// unit of the arena has a record, but only the record at the first unit of a block is meaningful.
// Free blocks are threaded into one doubly-linked list per order so that they can be unlinked in
// O(1) when their buddy is freed.
type BuddyBlockMetadata struct {
	BlockMetadataBase

	minBlockSize int
	maxOrder     int
	rootOrder    int

	allocCount   int
	freeCount    int
	sumFreeSize  int
	records      []buddyRecord
	freeListHead []int32
	freeListLen  []int
}

// NewBuddyBlockMetadata creates metadata whose smallest block is minBlockSize bytes and whose blocks
// never exceed minBlockSize<<maxOrder bytes. minBlockSize must be a power of two.
func NewBuddyBlockMetadata(minBlockSize int, maxOrder int) (*BuddyBlockMetadata, error) {
	err := memutils.CheckPow2(minBlockSize, "minBlockSize")
	if err != nil {
		return nil, err
	}

	if maxOrder < 0 || maxOrder > math.MaxUint8 {
		return nil, errors.Errorf("maxOrder must be between 0 and %d, but was %d", math.MaxUint8, maxOrder)
	}

	return &BuddyBlockMetadata{
		minBlockSize: minBlockSize,
		maxOrder:     maxOrder,
	}, nil
}

// Init sizes the metadata for an arena of the provided size, which must be a power-of-two multiple
// of the minimum block size. The whole arena starts free.
func (m *BuddyBlockMetadata) Init(size int) {
	memutils.DebugCheckPow2(size, "size")
	m.BlockMetadataBase.Init(size)

	units := size / m.minBlockSize
	m.rootOrder = memutils.Log2(units)
	if m.rootOrder > m.maxOrder {
		m.rootOrder = m.maxOrder
	}

	m.records = make([]buddyRecord, units)
	m.freeListHead = make([]int32, m.rootOrder+1)
	m.freeListLen = make([]int, m.rootOrder+1)
	m.Clear()
}

func (m *BuddyBlockMetadata) Clear() {
	for i := range m.records {
		m.records[i] = buddyRecord{prevFree: noUnit, nextFree: noUnit}
	}

	for order := range m.freeListHead {
		m.freeListHead[order] = noUnit
		m.freeListLen[order] = 0
	}

	m.allocCount = 0
	m.freeCount = 0
	m.sumFreeSize = 0

	rootUnits := 1 << m.rootOrder
	for unit := len(m.records) - rootUnits; unit >= 0; unit -= rootUnits {
		record := &m.records[unit]
		record.head = true
		record.free = true
		record.order = uint8(m.rootOrder)
		m.pushFree(int32(unit))
	}
}

// MinBlockSize is the size in bytes of an order-0 block
func (m *BuddyBlockMetadata) MinBlockSize() int { return m.minBlockSize }

// MaxOrder is the order bound the metadata was created with
func (m *BuddyBlockMetadata) MaxOrder() int { return m.maxOrder }

// RootOrder is the order of the largest blocks present when the arena is fully free
func (m *BuddyBlockMetadata) RootOrder() int { return m.rootOrder }

// MaxBlockSize is the largest request that can ever be satisfied
func (m *BuddyBlockMetadata) MaxBlockSize() int { return m.orderSize(m.rootOrder) }

func (m *BuddyBlockMetadata) orderSize(order int) int {
	return m.minBlockSize << order
}

// OrderForSize returns the order of the smallest block able to hold size bytes. Sizes below 1
// are treated as a request for a minimum-sized block, and sizes larger than MaxBlockSize return
// an order past RootOrder.
func (m *BuddyBlockMetadata) OrderForSize(size int) int {
	if size <= m.minBlockSize {
		return 0
	}

	if size > m.MaxBlockSize() {
		return m.rootOrder + 1
	}

	return memutils.Log2(memutils.NextPow2(size) / m.minBlockSize)
}

// FreeListLengths returns the number of free blocks at each order, indexed by order
func (m *BuddyBlockMetadata) FreeListLengths() []int {
	lengths := make([]int, len(m.freeListLen))
	copy(lengths, m.freeListLen)
	return lengths
}

func (m *BuddyBlockMetadata) pushFree(unit int32) {
	record := &m.records[unit]
	order := record.order

	record.prevFree = noUnit
	record.nextFree = m.freeListHead[order]
	if record.nextFree != noUnit {
		m.records[record.nextFree].prevFree = unit
	}
	m.freeListHead[order] = unit
	m.freeListLen[order]++

	m.freeCount++
	m.sumFreeSize += m.orderSize(int(order))
}

func (m *BuddyBlockMetadata) removeFree(unit int32) {
	record := &m.records[unit]
	order := record.order

	if record.prevFree == noUnit {
		m.freeListHead[order] = record.nextFree
	} else {
		m.records[record.prevFree].nextFree = record.nextFree
	}

	if record.nextFree != noUnit {
		m.records[record.nextFree].prevFree = record.prevFree
	}

	record.prevFree = noUnit
	record.nextFree = noUnit
	m.freeListLen[order]--

	m.freeCount--
	m.sumFreeSize -= m.orderSize(int(order))
}

func (m *BuddyBlockMetadata) getRecord(handle BlockAllocationHandle) (*buddyRecord, error) {
	if handle >= BlockAllocationHandle(len(m.records)) || !m.records[handle].head {
		return nil, errors.Errorf("handle %d does not name a block in this metadata", handle)
	}

	return &m.records[handle], nil
}

func (m *BuddyBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	// Check integrity of free lists
	var freeListCount, freeListBytes int
	for order, head := range m.freeListHead {
		var listLength int
		prev := noUnit

		for unit := head; unit != noUnit; unit = m.records[unit].nextFree {
			if unit < 0 || int(unit) >= len(m.records) {
				return errors.Errorf("free list for order %d references unit %d outside the arena", order, unit)
			}

			record := &m.records[unit]
			if !record.head || !record.free {
				return errors.Errorf("block at offset %d is in the free list but is not free", int(unit)*m.minBlockSize)
			}

			if int(record.order) != order {
				return errors.Errorf("block at offset %d has order %d but is in the free list for order %d", int(unit)*m.minBlockSize, record.order, order)
			}

			if record.prevFree != prev {
				return errors.Errorf("block at offset %d is in the free list for order %d, but the reverse reference is broken", int(unit)*m.minBlockSize, order)
			}

			listLength++
			if listLength > len(m.records) {
				return errors.Errorf("free list for order %d contains a cycle", order)
			}

			prev = unit
		}

		if listLength != m.freeListLen[order] {
			return errors.Errorf("free list for order %d has %d entries, but the metadata counted %d", order, listLength, m.freeListLen[order])
		}

		freeListCount += listLength
		freeListBytes += listLength * m.orderSize(order)
	}

	// Check integrity of the physical block chain
	var calculatedSize, allocCount, freeCount int
	for unit := 0; unit < len(m.records); {
		record := &m.records[unit]
		if !record.head {
			return errors.Errorf("no block starts at offset %d, but the previous block ends there", unit*m.minBlockSize)
		}

		order := int(record.order)
		if order > m.rootOrder {
			return errors.Errorf("block at offset %d has order %d, above the root order %d", unit*m.minBlockSize, order, m.rootOrder)
		}

		blockUnits := 1 << order
		if unit&(blockUnits-1) != 0 {
			return errors.Errorf("block at offset %d is not aligned to its size %d", unit*m.minBlockSize, m.orderSize(order))
		}

		for interior := unit + 1; interior < unit+blockUnits; interior++ {
			if m.records[interior].head {
				return errors.Errorf("block at offset %d overlaps the block at offset %d", unit*m.minBlockSize, interior*m.minBlockSize)
			}
		}

		if record.free {
			freeCount++

			if order < m.rootOrder {
				buddy := &m.records[unit^blockUnits]
				if buddy.head && buddy.free && int(buddy.order) == order {
					return errors.Errorf("free block at offset %d and its buddy are both free at order %d but were not merged", unit*m.minBlockSize, order)
				}
			}
		} else {
			allocCount++

			if int(record.requested) > m.orderSize(order) {
				return errors.Errorf("allocation at offset %d requested %d bytes, more than its block size %d", unit*m.minBlockSize, record.requested, m.orderSize(order))
			}
		}

		calculatedSize += m.orderSize(order)
		unit += blockUnits
	}

	if calculatedSize != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the blocks only added up to %d", m.size, calculatedSize)
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free blocks in the physical list and the number of blocks in the free list do not match! free list size: %d, physical list free blocks: %d", freeListCount, freeCount)
	}

	if freeListBytes != m.SumFreeSize() {
		return errors.Errorf("the free size of the metadata is %d, but the free blocks only added up to %d", m.SumFreeSize(), freeListBytes)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken blocks only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free block count of the metadata is %d, but there were only %d free blocks", m.freeCount, freeCount)
	}

	return nil
}

func (m *BuddyBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *BuddyBlockMetadata) FreeRegionsCount() int {
	return m.freeCount
}

func (m *BuddyBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *BuddyBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

func (m *BuddyBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, requested int, free bool) error) error {
	for unit := 0; unit < len(m.records); {
		record := &m.records[unit]
		size := m.orderSize(int(record.order))

		err := handleBlock(BlockAllocationHandle(unit), unit*m.minBlockSize, size, int(record.requested), record.free)
		if err != nil {
			return err
		}

		unit += 1 << record.order
	}

	return nil
}

func (m *BuddyBlockMetadata) HandleForOffset(offset int) BlockAllocationHandle {
	if offset < 0 || offset >= m.size || offset%m.minBlockSize != 0 {
		return NoAllocation
	}

	return BlockAllocationHandle(offset / m.minBlockSize)
}

func (m *BuddyBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	_, err := m.getRecord(allocHandle)
	if err != nil {
		return 0, err
	}

	return int(allocHandle) * m.minBlockSize, nil
}

func (m *BuddyBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	record, err := m.getRecord(allocHandle)
	if err != nil {
		return 0, err
	}

	return m.orderSize(int(record.order)), nil
}

// AllocationRequested returns the number of bytes requested for the live allocation the handle maps to
func (m *BuddyBlockMetadata) AllocationRequested(allocHandle BlockAllocationHandle) (int, error) {
	record, err := m.getRecord(allocHandle)
	if err != nil {
		return 0, err
	}

	if record.free {
		return 0, errors.Errorf("block at offset %d is not allocated", int(allocHandle)*m.minBlockSize)
	}

	return int(record.requested), nil
}

func (m *BuddyBlockMetadata) IsAllocated(allocHandle BlockAllocationHandle) bool {
	record, err := m.getRecord(allocHandle)
	return err == nil && !record.free
}

func (m *BuddyBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, requested int, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

func (m *BuddyBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.SumFreeSize()
}

func (m *BuddyBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("MinBlockSize").Int(m.minBlockSize)
	json.Name("RootOrder").Int(m.rootOrder)

	freeLists := json.Name("FreeBlocksByOrder").Array()
	for _, length := range m.freeListLen {
		freeLists.Int(length)
	}
	freeLists.End()
}

func (m *BuddyBlockMetadata) CheckCorruption(blockData unsafe.Pointer) error {
	return m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, requested int, free bool) error {
		if free {
			return nil
		}

		if !memutils.ValidateGuard(unsafe.Add(blockData, offset), requested, size) {
			return errors.Wrapf(memutils.ErrCorruption, "guard bytes after the %d requested bytes of the block at offset %d were overwritten", requested, offset)
		}

		return nil
	})
}

func (m *BuddyBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	memutils.DebugValidate(m)

	if allocSize > m.MaxBlockSize() {
		return false, allocRequest, nil
	}

	targetOrder := m.OrderForSize(allocSize)
	if targetOrder > m.rootOrder {
		return false, allocRequest, nil
	}

	for order := targetOrder; order <= m.rootOrder; order++ {
		unit := m.freeListHead[order]
		if unit == noUnit {
			continue
		}

		allocRequest.BlockAllocationHandle = BlockAllocationHandle(unit)
		allocRequest.Size = m.orderSize(targetOrder)
		allocRequest.Item = Suballocation{
			Offset:    int(unit) * m.minBlockSize,
			Size:      allocRequest.Size,
			Requested: allocSize,
		}
		allocRequest.AlgorithmData = uint64(targetOrder)

		allocRequest.Type = AllocationRequestExact
		if order > targetOrder {
			allocRequest.Type = AllocationRequestSplit
		}

		return true, allocRequest, nil
	}

	return false, allocRequest, nil
}

func (m *BuddyBlockMetadata) Alloc(request AllocationRequest, requested int) error {
	record, err := m.getRecord(request.BlockAllocationHandle)
	if err != nil {
		return err
	}

	if !record.free {
		return errors.Errorf("block at offset %d is not free", request.Item.Offset)
	}

	targetOrder := int(request.AlgorithmData)
	if int(record.order) < targetOrder || m.orderSize(targetOrder) != request.Size {
		return errors.Errorf("block at offset %d can no longer hold a request of size %d", request.Item.Offset, request.Size)
	}

	if requested > request.Size {
		return errors.Errorf("requested %d bytes from a block of size %d", requested, request.Size)
	}

	unit := int32(request.BlockAllocationHandle)
	m.removeFree(unit)

	// Halve the block until it reaches the target order, freeing the upper half each time
	for order := int(record.order); order > targetOrder; {
		order--

		buddyUnit := unit + int32(1)<<order
		buddy := &m.records[buddyUnit]
		buddy.head = true
		buddy.free = true
		buddy.order = uint8(order)
		buddy.requested = 0
		m.pushFree(buddyUnit)
	}

	record.order = uint8(targetOrder)
	record.free = false
	record.requested = int32(requested)
	m.allocCount++

	memutils.DebugValidate(m)

	return nil
}

func (m *BuddyBlockMetadata) Resize(allocHandle BlockAllocationHandle, requested int) (bool, error) {
	record, err := m.getRecord(allocHandle)
	if err != nil {
		return false, err
	}

	if record.free {
		return false, errors.Errorf("block at offset %d is not allocated", int(allocHandle)*m.minBlockSize)
	}

	if requested > m.orderSize(int(record.order)) {
		return false, nil
	}

	record.requested = int32(requested)
	return true, nil
}

func (m *BuddyBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	record, err := m.getRecord(allocHandle)
	if err != nil {
		return err
	}

	if record.free {
		return errors.Errorf("block at offset %d is already free", int(allocHandle)*m.minBlockSize)
	}

	unit := int32(allocHandle)
	order := int(record.order)
	record.requested = 0
	m.allocCount--

	// Merge upward as long as the buddy at the current order is an entire free block
	for order < m.rootOrder {
		buddyUnit := unit ^ int32(1)<<order
		buddy := &m.records[buddyUnit]
		if !buddy.head || !buddy.free || int(buddy.order) != order {
			break
		}

		m.removeFree(buddyUnit)

		if buddyUnit < unit {
			unit, buddyUnit = buddyUnit, unit
		}
		m.records[buddyUnit] = buddyRecord{prevFree: noUnit, nextFree: noUnit}
		order++
	}

	merged := &m.records[unit]
	merged.head = true
	merged.free = true
	merged.order = uint8(order)
	merged.requested = 0
	m.pushFree(unit)

	memutils.DebugValidate(m)

	return nil
}
