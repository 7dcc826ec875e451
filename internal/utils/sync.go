package utils

import (
	"sync"
)

// OptionalMutex is a sync.Mutex that can be switched off for allocators whose callers
// guarantee exclusive access themselves
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// Locked runs f while holding the lock
func (m *OptionalMutex) Locked(f func()) {
	m.Lock()
	defer m.Unlock()

	f()
}
