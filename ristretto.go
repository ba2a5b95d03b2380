package swrcache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

// RistrettoStorage is a bounded in-memory storage backed by ristretto.
// Memory-pressure eviction is ristretto's job; entries it drops are simply
// reported as missing.
type RistrettoStorage[T any] struct {
	cache *ristretto.Cache[string, T]
	ttl   time.Duration
}

var _ Storage[any] = &RistrettoStorage[any]{}

// RistrettoStorageConfig holds configuration for RistrettoStorage
type RistrettoStorageConfig[T any] struct {
	// Config is the ristretto configuration
	*ristretto.Config[string, T]

	// TTL is a backend-level hard expiry applied to every key.
	// Zero leaves expiry to the entry classifier.
	TTL time.Duration
}

// DefaultRistrettoStorageConfig returns a default configuration
func DefaultRistrettoStorageConfig[T any]() *RistrettoStorageConfig[T] {
	return &RistrettoStorageConfig[T]{
		Config: &ristretto.Config[string, T]{
			NumCounters: 1e7,     // 10M counters
			MaxCost:     1 << 30, // 1GB
			BufferItems: 64,
		},
	}
}

// NewRistrettoStorage creates a new ristretto-based storage
func NewRistrettoStorage[T any](config *RistrettoStorageConfig[T]) (*RistrettoStorage[T], error) {
	cache, err := ristretto.NewCache(config.Config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ristretto cache")
	}

	return &RistrettoStorage[T]{
		cache: cache,
		ttl:   config.TTL,
	}, nil
}

// Set stores a value with cost of 1.
// A write rejected by the admission policy is dropped silently; the next read
// is a miss and the operation runs again.
func (r *RistrettoStorage[T]) Set(_ context.Context, key string, value T) error {
	if r.cache.SetWithTTL(key, value, 1, r.ttl) {
		// make the write visible to the next Get
		r.cache.Wait()
	}
	return nil
}

func (r *RistrettoStorage[T]) Get(_ context.Context, key string) (T, error) {
	var zero T
	value, found := r.cache.Get(key)
	if !found {
		return zero, errors.Wrapf(&ErrKeyNotFound{}, "key not found in ristretto storage for key: %s", key)
	}
	return value, nil
}

// Del removes key. Wait flushes the delete through the set buffer so a
// concurrent buffered Set of the same key cannot resurrect it afterwards.
func (r *RistrettoStorage[T]) Del(_ context.Context, key string) error {
	r.cache.Del(key)
	r.cache.Wait()
	return nil
}

func (r *RistrettoStorage[T]) Clear(_ context.Context) error {
	r.cache.Clear()
	return nil
}

// Close stops ristretto's background goroutines
func (r *RistrettoStorage[T]) Close() error {
	r.cache.Close()
	return nil
}
