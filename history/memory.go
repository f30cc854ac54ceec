package history

import (
	"context"
	"slices"

	"github.com/casualjim/garden/internal/registry"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	docs registry.Registry[string, []byte]
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: registry.New[string, []byte]()}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(_ context.Context, key string, doc []byte) error {
	m.docs.Add(key, slices.Clone(doc))
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	doc, ok := m.docs.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(doc), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.docs.Del(key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
