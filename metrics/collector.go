// Package metrics exports allocator statistics to Prometheus.
package metrics

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/hostmem/alloc"
	"github.com/vkngwrapper/hostmem/memutils"
)

const (
	subsystem      = "allocator"
	labelAllocator = "allocator"
)

// Collector is a prometheus.Collector that reads the statistics of a set of named allocators each
// time it is scraped. Counters come from Allocator.Stats; occupancy gauges are only exported for
// allocators implementing alloc.StatisticsSource.
type Collector struct {
	mutex      sync.Mutex
	allocators map[string]alloc.Allocator

	allocatedBytes     *prometheus.Desc
	freedBytes         *prometheus.Desc
	allocations        *prometheus.Desc
	deallocations      *prometheus.Desc
	fragmentationBytes *prometheus.Desc

	blocks          *prometheus.Desc
	blockBytes      *prometheus.Desc
	liveAllocations *prometheus.Desc
	liveBytes       *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

func newDesc(namespace, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, []string{labelAllocator}, nil)
}

// NewCollector creates a collector whose metrics are prefixed with namespace
func NewCollector(namespace string) *Collector {
	return &Collector{
		allocators: make(map[string]alloc.Allocator),

		allocatedBytes:     newDesc(namespace, "allocated_bytes_total", "Total granted bytes of all successful allocations."),
		freedBytes:         newDesc(namespace, "freed_bytes_total", "Total granted bytes of all successful deallocations."),
		allocations:        newDesc(namespace, "allocations_total", "Total number of successful allocations."),
		deallocations:      newDesc(namespace, "deallocations_total", "Total number of successful deallocations."),
		fragmentationBytes: newDesc(namespace, "fragmentation_bytes_total", "Total bytes granted beyond what was requested."),

		blocks:          newDesc(namespace, "blocks", "Number of chunks, slabs or arenas currently held."),
		blockBytes:      newDesc(namespace, "block_bytes", "Bytes of backing memory currently held."),
		liveAllocations: newDesc(namespace, "live_allocations", "Number of allocations currently live."),
		liveBytes:       newDesc(namespace, "live_bytes", "Granted bytes of allocations currently live."),
	}
}

// Register adds an allocator to the collector under name. Names must be unique.
func (c *Collector) Register(name string, allocator alloc.Allocator) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, exists := c.allocators[name]
	if exists {
		return errors.Newf("an allocator named %q is already registered", name)
	}

	c.allocators[name] = allocator
	return nil
}

// Unregister removes the allocator registered under name, reporting whether there was one
func (c *Collector) Unregister(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, exists := c.allocators[name]
	delete(c.allocators, name)
	return exists
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocatedBytes
	ch <- c.freedBytes
	ch <- c.allocations
	ch <- c.deallocations
	ch <- c.fragmentationBytes
	ch <- c.blocks
	ch <- c.blockBytes
	ch <- c.liveAllocations
	ch <- c.liveBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mutex.Lock()
	names := make([]string, 0, len(c.allocators))
	for name := range c.allocators {
		names = append(names, name)
	}
	allocators := make([]alloc.Allocator, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		allocators = append(allocators, c.allocators[name])
	}
	c.mutex.Unlock()

	for i, allocator := range allocators {
		name := names[i]
		stats := allocator.Stats()

		ch <- prometheus.MustNewConstMetric(c.allocatedBytes, prometheus.CounterValue, float64(stats.AllocatedBytes), name)
		ch <- prometheus.MustNewConstMetric(c.freedBytes, prometheus.CounterValue, float64(stats.FreedBytes), name)
		ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(stats.AllocationCount), name)
		ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(stats.DeallocationCount), name)
		ch <- prometheus.MustNewConstMetric(c.fragmentationBytes, prometheus.CounterValue, float64(stats.FragmentationBytes), name)

		source, ok := allocator.(alloc.StatisticsSource)
		if !ok {
			continue
		}

		var statistics memutils.Statistics
		source.CalculateStatistics(&statistics)

		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(statistics.BlockCount), name)
		ch <- prometheus.MustNewConstMetric(c.blockBytes, prometheus.GaugeValue, float64(statistics.BlockBytes), name)
		ch <- prometheus.MustNewConstMetric(c.liveAllocations, prometheus.GaugeValue, float64(statistics.AllocationCount), name)
		ch <- prometheus.MustNewConstMetric(c.liveBytes, prometheus.GaugeValue, float64(statistics.AllocationBytes), name)
	}
}
