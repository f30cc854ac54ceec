// Package registry maps human-facing model keys to backend descriptors and binds each
// adapter id to the adapter instance serving it. Keys keep their registration order,
// which is the order hosts present them in.
package registry

import (
	"errors"
	"fmt"
	"sync"

	bindings "github.com/casualjim/garden/internal/registry"
	"github.com/casualjim/garden/provider"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrNotFound     = errors.New("model not found")
	ErrDuplicateKey = errors.New("model key already registered")
	ErrNoProvider   = errors.New("no provider bound for adapter")
)

// ModelDescriptor describes one selectable model. Descriptors are values and never
// change after registration.
type ModelDescriptor struct {
	DisplayKey   string                `json:"key"`
	Adapter      provider.AdapterID    `json:"adapter"`
	BackendModel string                `json:"model"`
	Capabilities provider.Capabilities `json:"capabilities"`
}

type Registry struct {
	mu        sync.RWMutex
	models    *orderedmap.OrderedMap[string, ModelDescriptor]
	providers bindings.Registry[provider.AdapterID, provider.Provider]
}

func New() *Registry {
	return &Registry{
		models:    orderedmap.New[string, ModelDescriptor](),
		providers: bindings.New[provider.AdapterID, provider.Provider](),
	}
}

// NewDefault builds a registry with the default model table and binds the given adapters.
func NewDefault(adapters ...provider.Provider) (*Registry, error) {
	r := New()
	for _, desc := range DefaultModels() {
		if err := r.Register(desc); err != nil {
			return nil, err
		}
	}
	for _, a := range adapters {
		r.Bind(a)
	}
	return r, nil
}

// Register adds a descriptor. Display keys are unique.
func (r *Registry) Register(desc ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, present := r.models.Get(desc.DisplayKey); present {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, desc.DisplayKey)
	}
	r.models.Set(desc.DisplayKey, desc)
	return nil
}

// Bind makes p the adapter serving its ID, replacing any previous binding.
func (r *Registry) Bind(p provider.Provider) {
	r.providers.Add(p.ID(), p)
}

func (r *Registry) Lookup(key string) (ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.models.Get(key)
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return desc, nil
}

// Keys returns the display keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, r.models.Len())
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]ModelDescriptor, 0, r.models.Len())
	for pair := r.models.Oldest(); pair != nil; pair = pair.Next() {
		descs = append(descs, pair.Value)
	}
	return descs
}

// Provider returns the adapter bound to id.
func (r *Registry) Provider(id provider.AdapterID) (provider.Provider, error) {
	p, ok := r.providers.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, id)
	}
	return p, nil
}
