package alloc

import (
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/hostmem/memutils"
	"golang.org/x/exp/slog"
)

// poolLink is the value stored in the first word of every free pool block. It encodes the chunk and
// block index of the next free block, plus one, so that the zero value terminates the list.
type poolLink uint64

const poolListEnd poolLink = 0

func encodePoolLink(chunk, block int) poolLink {
	return poolLink(uint64(chunk)<<32|uint64(block)) + 1
}

func (l poolLink) decode() (chunk, block int) {
	value := uint64(l - 1)
	return int(value >> 32), int(value & 0xFFFFFFFF)
}

type poolChunk struct {
	memory    []byte
	base      uintptr
	freeCount int
}

func (c *poolChunk) contains(address uintptr) bool {
	return address >= c.base && address < c.base+uintptr(len(c.memory))
}

// Pool hands out blocks of a single fixed size from a growing set of chunks. Free blocks are
// chained through their own first word. Chunks are never released before Destroy.
type Pool struct {
	allocatorBase

	blockSize      int
	blocksPerChunk int
	maxChunks      int

	chunks    []*poolChunk
	freeHead  poolLink
	freeCount int
	live      liveSet
	destroyed bool
}

var _ Allocator = &Pool{}
var _ StatisticsSource = &Pool{}
var _ InPlaceResizer = &Pool{}

// NewPool creates a pool of blocks that can each hold blockSize bytes. The block size is rounded
// up to a multiple of memutils.MinAlignment. The first chunk is allocated immediately.
func NewPool(blockSize int, options PoolCreateOptions) (*Pool, error) {
	if blockSize <= 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "block size must be positive, but was %d", blockSize)
	}

	if options.InitialPoolSize < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "initial pool size must not be negative, but was %d", options.InitialPoolSize)
	}

	if options.MaxChunks < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidSize, "max chunks must not be negative, but was %d", options.MaxChunks)
	}

	if blockSize < MinPoolBlockSize {
		blockSize = MinPoolBlockSize
	}

	pool := &Pool{
		allocatorBase:  newAllocatorBase(options.CreateOptions),
		blockSize:      memutils.AlignUp(blockSize, memutils.MinAlignment),
		blocksPerChunk: options.InitialPoolSize,
		maxChunks:      options.MaxChunks,
	}

	if pool.blocksPerChunk == 0 {
		pool.blocksPerChunk = DefaultPoolSize
	}

	pool.live = newLiveSet(pool.blocksPerChunk)

	if !pool.expand() {
		return nil, errors.Newf("could not allocate the initial chunk of %d blocks", pool.blocksPerChunk)
	}

	return pool, nil
}

// BlockSize is the granted size of every block
func (p *Pool) BlockSize() int { return p.blockSize }

// ChunkCount returns the number of chunks the pool currently holds
func (p *Pool) ChunkCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.chunks)
}

// TotalCapacity returns the number of blocks across all chunks
func (p *Pool) TotalCapacity() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.chunks) * p.blocksPerChunk
}

// FreeBlockCount returns the number of blocks on the free list
func (p *Pool) FreeBlockCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.freeCount
}

func (p *Pool) blockAddress(chunk, block int) unsafe.Pointer {
	return unsafe.Pointer(&p.chunks[chunk].memory[block*p.blockSize])
}

func (p *Pool) expand() bool {
	if p.maxChunks > 0 && len(p.chunks) >= p.maxChunks {
		p.logger.Debug("Pool::expand FAILED", slog.Int("MaxChunks", p.maxChunks))
		return false
	}

	memory := memutils.AlignedBytes(p.blocksPerChunk*p.blockSize, memutils.CacheLineSize)
	chunk := &poolChunk{
		memory:    memory,
		base:      uintptr(unsafe.Pointer(&memory[0])),
		freeCount: p.blocksPerChunk,
	}

	chunkIndex := len(p.chunks)
	p.chunks = append(p.chunks, chunk)

	// Thread the new blocks in address order, with the last one linking to the old head
	next := p.freeHead
	for block := p.blocksPerChunk - 1; block >= 0; block-- {
		*(*poolLink)(p.blockAddress(chunkIndex, block)) = next
		next = encodePoolLink(chunkIndex, block)
	}
	p.freeHead = next
	p.freeCount += p.blocksPerChunk

	p.logger.Debug("Pool::expand", slog.Int("ChunkCount", len(p.chunks)), slog.Int("BlockSize", p.blockSize), slog.Int("Blocks", p.blocksPerChunk))

	return true
}

// locate maps an address to the chunk and block it starts, if any
func (p *Pool) locate(address uintptr) (chunk, block int, ok bool) {
	for chunkIndex, c := range p.chunks {
		if !c.contains(address) {
			continue
		}

		offset := int(address - c.base)
		if offset%p.blockSize != 0 {
			return 0, 0, false
		}

		return chunkIndex, offset / p.blockSize, true
	}

	return 0, 0, false
}

func (p *Pool) Allocate(size int, flags memutils.AllocFlags) unsafe.Pointer {
	if size <= 0 || size > p.blockSize {
		return nil
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil
	}

	if p.freeHead == poolListEnd && !p.expand() {
		return nil
	}

	chunk, block := p.freeHead.decode()
	ptr := p.blockAddress(chunk, block)
	p.freeHead = *(*poolLink)(ptr)
	p.freeCount--
	p.chunks[chunk].freeCount--

	p.live.Add(ptr, size)
	p.stats.RecordAllocation(p.blockSize, size)

	if flags&memutils.AllocZero != 0 {
		memutils.ZeroMemory(ptr, p.blockSize)
	}

	return ptr
}

func (p *Pool) Deallocate(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	chunk, block, ok := p.locate(uintptr(ptr))
	if !ok || !p.live.Remove(ptr) {
		return
	}

	*(*poolLink)(ptr) = p.freeHead
	p.freeHead = encodePoolLink(chunk, block)
	p.freeCount++
	p.chunks[chunk].freeCount++

	p.stats.RecordDeallocation(p.blockSize)
}

func (p *Pool) Owns(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, _, ok := p.locate(uintptr(ptr))
	return ok
}

func (p *Pool) AllocationSize(ptr unsafe.Pointer) int {
	if !p.Owns(ptr) {
		return 0
	}

	return p.blockSize
}

func (p *Pool) ValidatePtr(ptr unsafe.Pointer) bool {
	if ptr == nil {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.live.Has(ptr)
}

func (p *Pool) ResizeInPlace(ptr unsafe.Pointer, newSize int) bool {
	if newSize <= 0 || newSize > p.blockSize {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.live.Has(ptr) {
		return false
	}

	p.live.Add(ptr, newSize)
	return true
}

// Validate walks the free list and verifies it against the chunks and the set of live blocks
func (p *Pool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	capacity := len(p.chunks) * p.blocksPerChunk
	chunkFree := make([]int, len(p.chunks))

	var walked int
	for link := p.freeHead; link != poolListEnd; {
		walked++
		if walked > capacity {
			return errors.Newf("free list is longer than the pool capacity of %d blocks, it must contain a cycle", capacity)
		}

		chunk, block := link.decode()
		if chunk >= len(p.chunks) || block >= p.blocksPerChunk {
			return errors.Newf("free list entry %d references chunk %d block %d, outside the pool", walked, chunk, block)
		}

		ptr := p.blockAddress(chunk, block)
		if p.live.Has(ptr) {
			return errors.Newf("block %d of chunk %d is on the free list but is allocated", block, chunk)
		}

		chunkFree[chunk]++
		link = *(*poolLink)(ptr)
	}

	if walked != p.freeCount {
		return errors.Newf("the pool counted %d free blocks, but the free list holds %d", p.freeCount, walked)
	}

	for chunkIndex, c := range p.chunks {
		if chunkFree[chunkIndex] != c.freeCount {
			return errors.Newf("chunk %d counted %d free blocks, but the free list holds %d of its blocks", chunkIndex, c.freeCount, chunkFree[chunkIndex])
		}
	}

	if p.freeCount+p.live.Count() != capacity {
		return errors.Newf("%d free blocks and %d live blocks do not add up to the pool capacity of %d", p.freeCount, p.live.Count(), capacity)
	}

	return nil
}

func (p *Pool) CheckCorruption() {
	memutils.MustValidate(p)
}

func (p *Pool) CalculateStatistics(stats *memutils.Statistics) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats.BlockCount += len(p.chunks)
	stats.BlockBytes += len(p.chunks) * p.blocksPerChunk * p.blockSize
	stats.AllocationCount += p.live.Count()
	stats.AllocationBytes += p.live.Count() * p.blockSize
}

// BuildStatsString returns a json document describing the pool's counters and occupancy. When
// detailed is true, each chunk is listed.
func (p *Pool) BuildStatsString(detailed bool) string {
	var statistics memutils.Statistics
	p.CalculateStatistics(&statistics)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Type").String("Pool")
	obj.Name("BlockSize").Int(p.blockSize)

	totalObj := obj.Name("Total").Object()
	p.stats.JsonData(&totalObj)
	totalObj.End()

	occupancyObj := obj.Name("Occupancy").Object()
	statistics.JsonData(&occupancyObj)
	occupancyObj.End()

	if detailed {
		chunksObj := obj.Name("Chunks").Object()
		for chunkIndex, c := range p.chunks {
			chunkObj := chunksObj.Name(strconv.Itoa(chunkIndex)).Object()
			chunkObj.Name("TotalBytes").Int(len(c.memory))
			chunkObj.Name("FreeBlocks").Int(c.freeCount)
			chunkObj.Name("Allocations").Int(p.blocksPerChunk - c.freeCount)
			chunkObj.End()
		}
		chunksObj.End()
	}

	obj.End()

	return string(writer.Bytes())
}

func (p *Pool) Destroy() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.live.LogUnreleased(p.logger, p.offsetOf, p.blockSize)

	p.chunks = nil
	p.freeHead = poolListEnd
	p.freeCount = 0
	p.live.Clear()
	p.destroyed = true
}

// offsetOf expresses an address as a byte offset across the pool's chunks laid end to end
func (p *Pool) offsetOf(address uintptr) int {
	chunkBytes := p.blocksPerChunk * p.blockSize
	for chunkIndex, c := range p.chunks {
		if c.contains(address) {
			return chunkIndex*chunkBytes + int(address-c.base)
		}
	}

	return -1
}
