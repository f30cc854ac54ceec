// Package registry is a small concurrent name to value map used to bind runtime
// instances (adapters, sessions) by a string-like key.
package registry

import "github.com/alphadose/haxmap"

type Registry[K ~string, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V)
	GetOrAdd(key K, value func() V) (V, bool)
	Del(key K)
	Len() int
}

type registry[K ~string, V any] struct {
	values *haxmap.Map[K, V]
}

func New[K ~string, V any]() Registry[K, V] {
	return &registry[K, V]{
		values: haxmap.New[K, V](),
	}
}

func (r *registry[K, V]) Get(key K) (V, bool) {
	return r.values.Get(key)
}

func (r *registry[K, V]) Add(key K, value V) {
	r.values.Set(key, value)
}

// GetOrAdd returns the stored value for key, computing and storing it when absent.
// The boolean reports whether the value was already present.
func (r *registry[K, V]) GetOrAdd(key K, valueFn func() V) (V, bool) {
	return r.values.GetOrCompute(key, valueFn)
}

func (r *registry[K, V]) Del(key K) {
	r.values.Del(key)
}

func (r *registry[K, V]) Len() int {
	return int(r.values.Len())
}
