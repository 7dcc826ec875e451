package alloc

import (
	"io"
	"strings"

	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

// CreateNone requests the default behavior
const CreateNone CreateFlags = 0

const (
	// CreateExternallySynchronized ensures that the allocator will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism, but performance may improve because internal mutexes are not used.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == CreateNone {
		return "CreateNone"
	}

	var names []string
	for bit := CreateExternallySynchronized; bit <= CreateExternallySynchronized; bit <<= 1 {
		if f&bit != 0 {
			names = append(names, createFlagsMapping[bit])
		}
	}

	return strings.Join(names, "|")
}

// CreateOptions contains settings shared by every allocator. It is valid to leave all fields blank.
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Logger receives diagnostics such as backing memory growth and allocations still live at
	// Destroy. If nil, nothing is logged.
	Logger *slog.Logger
	// NumaNode is recorded and reported by NumaNode, but does not influence placement
	NumaNode int
}

func (o CreateOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.New(slog.NewTextHandler(io.Discard))
}

const (
	// DefaultPoolSize is the number of blocks in each pool chunk when none is specified
	DefaultPoolSize int = 1024
	// MinPoolBlockSize is the smallest block size a pool will use, since a free block must hold a
	// free-list link
	MinPoolBlockSize int = 8
)

// PoolCreateOptions contains optional settings when creating a Pool
type PoolCreateOptions struct {
	CreateOptions

	// InitialPoolSize is the number of blocks in each chunk. Defaults to DefaultPoolSize.
	InitialPoolSize int
	// MaxChunks caps the number of chunks the pool may grow to. Zero means unlimited.
	MaxChunks int
}

const (
	// DefaultSlabSize is the size of a slab when none is specified
	DefaultSlabSize int = 4096
	// DefaultMaxSlabs is the maximum number of slabs when none is specified
	DefaultMaxSlabs int = 1024
	// MaxObjectsPerSlab bounds the number of objects in a single slab
	MaxObjectsPerSlab int = 8192
)

// SlabCreateOptions contains optional settings when creating a Slab
type SlabCreateOptions struct {
	CreateOptions

	// SlabSize is the target size in bytes of each slab, including its header. Defaults to
	// DefaultSlabSize. Slabs grow past this size when a single object does not fit.
	SlabSize int
	// MaxSlabs caps the number of live slabs. Defaults to DefaultMaxSlabs.
	MaxSlabs int
}

const (
	// DefaultMaxArenaSize is the largest arena a Buddy will create when none is specified
	DefaultMaxArenaSize int = 1 << 30
)

// BuddyCreateOptions contains optional settings when creating a Buddy
type BuddyCreateOptions struct {
	CreateOptions

	// MinBlockSize is the size of an order-0 block. It must be a power of two no smaller than
	// memutils.MinAlignment. Defaults to metadata.DefaultMinBlockSize.
	MinBlockSize int
	// MaxOrder bounds the size of the largest block at MinBlockSize<<MaxOrder. Defaults to
	// metadata.DefaultMaxOrder.
	MaxOrder int
	// MaxArenaSize is the hard cap on the arena size. Defaults to DefaultMaxArenaSize.
	MaxArenaSize int
}
