package alloc

import (
	"context"
	"unsafe"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// liveSet records the addresses of blocks that are currently handed out, so that double frees
// can be rejected and ValidatePtr answered without walking free lists
type liveSet struct {
	addresses *swiss.Map[uintptr, int]
}

func newLiveSet(capacityHint int) liveSet {
	return liveSet{addresses: swiss.NewMap[uintptr, int](uint32(capacityHint))}
}

func (s liveSet) Add(ptr unsafe.Pointer, requested int) {
	s.addresses.Put(uintptr(ptr), requested)
}

// Remove deletes ptr from the set, reporting whether it was present
func (s liveSet) Remove(ptr unsafe.Pointer) bool {
	return s.addresses.Delete(uintptr(ptr))
}

func (s liveSet) Has(ptr unsafe.Pointer) bool {
	return s.addresses.Has(uintptr(ptr))
}

func (s liveSet) Count() int {
	return s.addresses.Count()
}

func (s liveSet) Clear() {
	s.addresses.Clear()
}

// LogUnreleased reports every address still in the set at error level. base is subtracted from
// each address to produce a stable offset.
func (s liveSet) LogUnreleased(logger *slog.Logger, base func(address uintptr) int, size int) {
	s.addresses.Iter(func(address uintptr, requested int) bool {
		logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
			slog.Int("offset", base(address)),
			slog.Int("size", size),
			slog.Int("requested", requested),
		)
		return false
	})
}
