package conversation

import (
	"context"
	"sync"
)

// MemoryStore keeps conversations in process memory. It is the default
// backend for single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Read returns the stored state for key or New().
func (m *MemoryStore) Read(_ context.Context, key string) (State, error) {
	if key == "" {
		return State{}, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[key]; ok {
		return st.Clone(), nil
	}
	return New(), nil
}

// Replace overwrites the state for key.
func (m *MemoryStore) Replace(_ context.Context, key string, st State) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	m.states[key] = st.Clone()
	m.mu.Unlock()
	return nil
}

// Patch applies mutate to the current state of key under the write lock.
func (m *MemoryStore) Patch(_ context.Context, key string, mutate func(*State)) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = New()
	}
	st = st.Clone()
	mutate(&st)
	m.states[key] = st
	return nil
}

// Clear deletes the state for key.
func (m *MemoryStore) Clear(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	delete(m.states, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many conversations are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
