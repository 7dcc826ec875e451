package alloc

import (
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

const (
	// SlabMagic is written at the start of every slab's header and checked by CheckCorruption
	SlabMagic uint32 = 0xDEADBEEF
	// SlabHeaderSize is the number of bytes at the start of each slab reserved for its in-band header.
	// It keeps the object region cache-line aligned.
	SlabHeaderSize int = int(memutils.CacheLineSize)

	slabListEnd int32 = -1
)

// slabHeader is the in-band portion of a slab's bookkeeping, stored in the first bytes of the slab
type slabHeader struct {
	magic       uint32
	objectCount uint32
}

type slab struct {
	memory   []byte
	base     uintptr
	objects  unsafe.Pointer
	capacity int

	freeCount int
	freeHead  int32

	prev   *slab
	next   *slab
	listed bool
}

func (s *slab) header() *slabHeader {
	return (*slabHeader)(unsafe.Pointer(&s.memory[0]))
}

// Slab hands out objects of a single size from independently-allocated slabs. Slabs with free
// capacity are kept on a doubly-linked list, and every slab is kept in a slice sorted by address
// so that the owner of a pointer can be found with a binary search. A slab is released as soon as
// it becomes completely free, as long as another slab remains.
type Slab struct {
	allocatorBase

	objectSize     int
	objectsPerSlab int
	maxSlabs       int

	slabs       []*slab
	partialHead *slab
	live        liveSet
	destroyed   bool
}

var _ Allocator = &Slab{}
var _ StatisticsSource = &Slab{}
var _ InPlaceResizer = &Slab{}

// NewSlab creates a slab allocator for objects of objectSize bytes. The object size is rounded up
// to a multiple of memutils.MinAlignment. The first slab is created lazily on the first allocation.
func NewSlab(objectSize int, options SlabCreateOptions) (*Slab, error) {
	if objectSize <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "object size must be positive, but was %d", objectSize)
	}

	if options.SlabSize < 0 || options.MaxSlabs < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "slab size %d and max slabs %d must not be negative", options.SlabSize, options.MaxSlabs)
	}

	slabSize := options.SlabSize
	if slabSize == 0 {
		slabSize = DefaultSlabSize
	}

	maxSlabs := options.MaxSlabs
	if maxSlabs == 0 {
		maxSlabs = DefaultMaxSlabs
	}

	objectSize = memutils.AlignUp(objectSize, memutils.MinAlignment)

	objectsPerSlab := (slabSize - SlabHeaderSize) / objectSize
	if objectsPerSlab > MaxObjectsPerSlab {
		objectsPerSlab = MaxObjectsPerSlab
	}
	if objectsPerSlab < 1 {
		objectsPerSlab = 1
	}

	return &Slab{
		allocatorBase:  newAllocatorBase(options.CreateOptions),
		objectSize:     objectSize,
		objectsPerSlab: objectsPerSlab,
		maxSlabs:       maxSlabs,
		live:           newLiveSet(objectsPerSlab),
	}, nil
}

// ObjectSize is the granted size of every object
func (a *Slab) ObjectSize() int { return a.objectSize }

// ObjectsPerSlab is the number of objects each slab holds
func (a *Slab) ObjectsPerSlab() int { return a.objectsPerSlab }

// SlabCount returns the number of live slabs
func (a *Slab) SlabCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return len(a.slabs)
}

func (a *Slab) objectAddress(s *slab, index int32) unsafe.Pointer {
	return unsafe.Add(s.objects, int(index)*a.objectSize)
}

func compareSlabBase(s *slab, address uintptr) int {
	switch {
	case s.base < address:
		return -1
	case s.base > address:
		return 1
	default:
		return 0
	}
}

// findSlab returns the slab whose object region contains an object starting at address
func (a *Slab) findSlab(address uintptr) (*slab, int32) {
	index, found := slices.BinarySearchFunc(a.slabs, address, compareSlabBase)
	if found || index == 0 {
		// A slab's base address is its header, never an object
		return nil, slabListEnd
	}

	s := a.slabs[index-1]
	objects := uintptr(s.objects)
	if address < objects || address >= objects+uintptr(s.capacity*a.objectSize) {
		return nil, slabListEnd
	}

	offset := int(address - objects)
	if offset%a.objectSize != 0 {
		return nil, slabListEnd
	}

	return s, int32(offset / a.objectSize)
}

func (a *Slab) pushPartial(s *slab) {
	s.prev = nil
	s.next = a.partialHead
	if a.partialHead != nil {
		a.partialHead.prev = s
	}
	a.partialHead = s
	s.listed = true
}

func (a *Slab) removePartial(s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		a.partialHead = s.next
	}

	if s.next != nil {
		s.next.prev = s.prev
	}

	s.prev = nil
	s.next = nil
	s.listed = false
}

func (a *Slab) createSlab() *slab {
	if len(a.slabs) >= a.maxSlabs {
		a.logger.Debug("Slab::createSlab FAILED", slog.Int("MaxSlabs", a.maxSlabs))
		return nil
	}

	memory := memutils.AlignedBytes(SlabHeaderSize+a.objectsPerSlab*a.objectSize, memutils.CacheLineSize)
	s := &slab{
		memory:    memory,
		base:      uintptr(unsafe.Pointer(&memory[0])),
		objects:   unsafe.Pointer(&memory[SlabHeaderSize]),
		capacity:  a.objectsPerSlab,
		freeCount: a.objectsPerSlab,
		freeHead:  0,
	}

	header := s.header()
	header.magic = SlabMagic
	header.objectCount = uint32(a.objectsPerSlab)

	for index := int32(0); index < int32(s.capacity); index++ {
		next := index + 1
		if int(next) == s.capacity {
			next = slabListEnd
		}
		*(*int32)(a.objectAddress(s, index)) = next
	}

	insertAt, _ := slices.BinarySearchFunc(a.slabs, s.base, compareSlabBase)
	a.slabs = slices.Insert(a.slabs, insertAt, s)

	a.logger.Debug("Slab::createSlab", slog.Int("SlabCount", len(a.slabs)), slog.Int("ObjectSize", a.objectSize), slog.Int("Objects", s.capacity))

	return s
}

func (a *Slab) destroySlab(s *slab) {
	if s.listed {
		a.removePartial(s)
	}

	index, found := slices.BinarySearchFunc(a.slabs, s.base, compareSlabBase)
	if found {
		a.slabs = slices.Delete(a.slabs, index, index+1)
	}

	s.header().magic = 0
	s.memory = nil

	a.logger.Debug("Slab::destroySlab", slog.Int("SlabCount", len(a.slabs)))
}

func (a *Slab) Allocate(size int, flags memutils.AllocFlags) unsafe.Pointer {
	if size <= 0 || size > a.objectSize {
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil
	}

	s := a.partialHead
	if s == nil {
		s = a.createSlab()
		if s == nil {
			return nil
		}
		a.pushPartial(s)
	}

	ptr := a.objectAddress(s, s.freeHead)
	s.freeHead = *(*int32)(ptr)
	s.freeCount--
	if s.freeCount == 0 {
		a.removePartial(s)
	}

	a.live.Add(ptr, size)
	a.stats.RecordAllocation(a.objectSize, size)

	if flags&memutils.AllocZero != 0 {
		memutils.ZeroMemory(ptr, a.objectSize)
	}

	return ptr
}

func (a *Slab) Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	s, index := a.findSlab(uintptr(ptr))
	if s == nil || !a.live.Remove(ptr) {
		return
	}

	*(*int32)(ptr) = s.freeHead
	s.freeHead = index
	s.freeCount++

	a.stats.RecordDeallocation(a.objectSize)

	if s.freeCount == s.capacity && len(a.slabs) > 1 {
		a.destroySlab(s)
		return
	}

	if s.freeCount == 1 {
		a.pushPartial(s)
	}
}

func (a *Slab) Owns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	s, _ := a.findSlab(uintptr(ptr))
	return s != nil
}

func (a *Slab) AllocationSize(ptr unsafe.Pointer) int {
	if !a.Owns(ptr) {
		return 0
	}

	return a.objectSize
}

func (a *Slab) ValidatePtr(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.live.Has(ptr)
}

func (a *Slab) ResizeInPlace(ptr unsafe.Pointer, newSize int) bool {
	if newSize <= 0 || newSize > a.objectSize {
		return false
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.live.Has(ptr) {
		return false
	}

	a.live.Add(ptr, newSize)
	return true
}

// Validate checks every slab's header and free list, and the list of slabs with free capacity
func (a *Slab) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.slabs) > a.maxSlabs {
		return errors.Newf("%d slabs exceed the maximum of %d", len(a.slabs), a.maxSlabs)
	}

	var partialSlabs, totalFree int
	for slabIndex, s := range a.slabs {
		if slabIndex > 0 && a.slabs[slabIndex-1].base >= s.base {
			return errors.Newf("slab %d is out of address order", slabIndex)
		}

		header := s.header()
		if header.magic != SlabMagic {
			return errors.Newf("slab %d has magic %#x, expected %#x", slabIndex, header.magic, SlabMagic)
		}

		if int(header.objectCount) != s.capacity {
			return errors.Newf("slab %d header records %d objects, but the slab holds %d", slabIndex, header.objectCount, s.capacity)
		}

		var walked int
		for index := s.freeHead; index != slabListEnd; {
			walked++
			if walked > s.capacity {
				return errors.Newf("free list of slab %d is longer than its capacity of %d objects, it must contain a cycle", slabIndex, s.capacity)
			}

			if index < 0 || int(index) >= s.capacity {
				return errors.Newf("free list of slab %d references object %d, outside its object region", slabIndex, index)
			}

			ptr := a.objectAddress(s, index)
			if a.live.Has(ptr) {
				return errors.Newf("object %d of slab %d is on the free list but is allocated", index, slabIndex)
			}

			index = *(*int32)(ptr)
		}

		if walked != s.freeCount {
			return errors.Newf("slab %d counted %d free objects, but its free list holds %d", slabIndex, s.freeCount, walked)
		}

		if s.listed != (s.freeCount > 0) {
			return errors.Newf("slab %d has %d free objects, but its membership in the partial list is %t", slabIndex, s.freeCount, s.listed)
		}

		if s.listed {
			partialSlabs++
		}
		totalFree += s.freeCount
	}

	var walkedPartial int
	var prev *slab
	for s := a.partialHead; s != nil; s = s.next {
		walkedPartial++
		if walkedPartial > len(a.slabs) {
			return errors.New("the partial slab list is longer than the slab count, it must contain a cycle")
		}

		if s.prev != prev {
			return errors.Newf("partial slab list entry %d has a broken reverse reference", walkedPartial)
		}

		if s.freeCount == 0 {
			return errors.Newf("partial slab list entry %d has no free objects", walkedPartial)
		}

		prev = s
	}

	if walkedPartial != partialSlabs {
		return errors.Newf("%d slabs have free objects, but the partial slab list holds %d", partialSlabs, walkedPartial)
	}

	if totalFree+a.live.Count() != len(a.slabs)*a.objectsPerSlab {
		return errors.Newf("%d free objects and %d live objects do not add up to the capacity of %d slabs", totalFree, a.live.Count(), len(a.slabs))
	}

	return nil
}

func (a *Slab) CheckCorruption() {
	memutils.MustValidate(a)
}

func (a *Slab) CalculateStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats.BlockCount += len(a.slabs)
	for _, s := range a.slabs {
		stats.BlockBytes += len(s.memory)
	}
	stats.AllocationCount += a.live.Count()
	stats.AllocationBytes += a.live.Count() * a.objectSize
}

// BuildStatsString returns a json document describing the allocator's counters and occupancy. When
// detailed is true, each slab is listed.
func (a *Slab) BuildStatsString(detailed bool) string {
	var statistics memutils.Statistics
	a.CalculateStatistics(&statistics)

	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Type").String("Slab")
	obj.Name("ObjectSize").Int(a.objectSize)
	obj.Name("ObjectsPerSlab").Int(a.objectsPerSlab)

	totalObj := obj.Name("Total").Object()
	a.stats.JsonData(&totalObj)
	totalObj.End()

	occupancyObj := obj.Name("Occupancy").Object()
	statistics.JsonData(&occupancyObj)
	occupancyObj.End()

	if detailed {
		slabsObj := obj.Name("Slabs").Object()
		for slabIndex, s := range a.slabs {
			slabObj := slabsObj.Name(strconv.Itoa(slabIndex)).Object()
			slabObj.Name("TotalBytes").Int(len(s.memory))
			slabObj.Name("FreeObjects").Int(s.freeCount)
			slabObj.Name("Allocations").Int(s.capacity - s.freeCount)
			slabObj.Name("Partial").Bool(s.listed)
			slabObj.End()
		}
		slabsObj.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func (a *Slab) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.live.LogUnreleased(a.logger, a.offsetOf, a.objectSize)

	for _, s := range a.slabs {
		s.memory = nil
		s.prev = nil
		s.next = nil
	}

	a.slabs = nil
	a.partialHead = nil
	a.live.Clear()
	a.destroyed = true
}

// offsetOf expresses an address as a byte offset across the slabs laid end to end
func (a *Slab) offsetOf(address uintptr) int {
	var offset int
	for _, s := range a.slabs {
		if address >= s.base && address < s.base+uintptr(len(s.memory)) {
			return offset + int(address-s.base)
		}
		offset += len(s.memory)
	}

	return -1
}
