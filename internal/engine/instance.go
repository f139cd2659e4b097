package engine

import (
	"fmt"
	"sync"
)

// InstanceManager reference-counts a process-wide GPU instance. Every
// filter instance acquires a reference at construction time and releases it
// on teardown — including teardown caused by a configuration failure after
// partial initialization. The expensive init hook runs on the first
// acquisition; the teardown hook runs when the count returns to zero.
//
// This replaces a bare shared counter with documented init/teardown rules:
// the manager is the only component allowed to create or destroy the
// underlying instance.
type InstanceManager struct {
	mu       sync.Mutex
	refs     int
	initFn   func() error
	teardown func()
}

// NewInstanceManager creates a manager around the engine's instance init
// and teardown hooks. Either hook may be nil.
func NewInstanceManager(initFn func() error, teardown func()) *InstanceManager {
	return &InstanceManager{initFn: initFn, teardown: teardown}
}

// Acquire takes one reference, initializing the instance if this is the
// first live reference. A failed init takes no reference.
func (m *InstanceManager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 && m.initFn != nil {
		if err := m.initFn(); err != nil {
			return fmt.Errorf("failed to create GPU instance: %w", err)
		}
	}
	m.refs++
	return nil
}

// Release drops one reference, destroying the instance when the count
// reaches zero. Releasing with no live references is a programming error
// and panics rather than corrupting the count.
func (m *InstanceManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		panic("engine: InstanceManager.Release without matching Acquire")
	}
	m.refs--
	if m.refs == 0 && m.teardown != nil {
		m.teardown()
	}
}

// Refs returns the current reference count (for tests and health checks).
func (m *InstanceManager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
