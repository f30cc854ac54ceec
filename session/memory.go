package session

import (
	"context"
	"sync"

	"github.com/casualjim/garden/internal/registry"
	json "github.com/goccy/go-json"
)

// MemoryStore keeps encoded states in process memory. Callers always receive their
// own copy.
type MemoryStore struct {
	mu     sync.Mutex
	states registry.Registry[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: registry.New[string, []byte]()}
}

func (m *MemoryStore) Create(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.states.Get(state.ID); exists {
		return ErrExists
	}
	stamp(state, 1)
	doc, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.states.Add(state.ID, doc)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	doc, ok := m.states.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	var state State
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *MemoryStore) Update(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.states.Get(state.ID)
	if !ok {
		return ErrNotFound
	}
	var stored State
	if err := json.Unmarshal(doc, &stored); err != nil {
		return err
	}
	if stored.Version != state.Version {
		return ErrConflict
	}

	next := *state
	stamp(&next, state.Version+1)
	doc, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	m.states.Add(state.ID, doc)
	*state = next
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.states.Del(id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
