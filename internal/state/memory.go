package state

import (
	"context"
	"sync"
)

// MemoryStore is the default process-local Store. Entries live until
// cleared or the process exits; there is no expiry.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[int64]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]State)}
}

func (m *MemoryStore) Get(_ context.Context, peerID int64) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[peerID]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate the stored value in place.
	out := s
	return &out, nil
}

func (m *MemoryStore) Set(_ context.Context, peerID int64, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[peerID] = s
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, peerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, peerID)
	return nil
}
