package swrcache

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStorage keeps values in a sync.Map for the life of the process.
// It never evicts on its own; pair it with ttl-bearing entries or use
// RistrettoStorage when memory must be bounded.
type MemoryStorage[T any] struct {
	m sync.Map
}

var _ Storage[any] = &MemoryStorage[any]{}

// NewMemoryStorage creates an empty in-process storage
func NewMemoryStorage[T any]() *MemoryStorage[T] {
	return &MemoryStorage[T]{}
}

func (s *MemoryStorage[T]) Set(_ context.Context, key string, value T) error {
	s.m.Store(key, value)
	return nil
}

func (s *MemoryStorage[T]) Get(_ context.Context, key string) (T, error) {
	var zero T
	v, ok := s.m.Load(key)
	if !ok {
		return zero, errors.Wrapf(&ErrKeyNotFound{}, "key not found in memory storage for key: %s", key)
	}
	return v.(T), nil
}

func (s *MemoryStorage[T]) Del(_ context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

func (s *MemoryStorage[T]) Clear(_ context.Context) error {
	s.m.Clear()
	return nil
}

// Len counts the stored keys
func (s *MemoryStorage[T]) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
