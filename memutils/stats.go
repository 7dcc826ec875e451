package memutils

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// Stats holds the running counters every allocator keeps. The counters only ever increase; Reset
// returns them to zero without regard to allocations that are still live.
type Stats struct {
	// AllocatedBytes is the sum of the granted sizes of every successful allocation
	AllocatedBytes int
	// FreedBytes is the sum of the granted sizes of every successful deallocation
	FreedBytes int
	// AllocationCount is the number of successful allocations
	AllocationCount int
	// DeallocationCount is the number of successful deallocations
	DeallocationCount int
	// FragmentationBytes is the sum, across every successful allocation, of the bytes granted beyond
	// what the caller requested
	FragmentationBytes int
}

// RecordAllocation adds a successful allocation of granted bytes, made to satisfy a request for
// requested bytes, to the counters
func (s *Stats) RecordAllocation(granted, requested int) {
	s.AllocatedBytes += granted
	s.AllocationCount++
	if granted > requested {
		s.FragmentationBytes += granted - requested
	}
}

// RecordDeallocation adds a successful deallocation of granted bytes to the counters
func (s *Stats) RecordDeallocation(granted int) {
	s.FreedBytes += granted
	s.DeallocationCount++
}

func (s *Stats) Reset() {
	*s = Stats{}
}

// LiveBytes is the number of bytes allocated and not yet freed since the last Reset
func (s Stats) LiveBytes() int {
	return s.AllocatedBytes - s.FreedBytes
}

// LiveCount is the number of allocations not yet freed since the last Reset
func (s Stats) LiveCount() int {
	return s.AllocationCount - s.DeallocationCount
}

// JsonData populates a json object with the counters
func (s Stats) JsonData(json *jwriter.ObjectState) {
	json.Name("AllocatedBytes").Int(s.AllocatedBytes)
	json.Name("FreedBytes").Int(s.FreedBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("DeallocationCount").Int(s.DeallocationCount)
	json.Name("FragmentationBytes").Int(s.FragmentationBytes)
}
