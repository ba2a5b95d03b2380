package swrcache

import (
	"context"

	"github.com/allegro/bigcache/v3"
	"github.com/pkg/errors"
)

// BigCacheStorage stores raw bytes in BigCache. Pair it with JSONTransform or
// MsgpackTransform to hold entries.
type BigCacheStorage struct {
	cache *bigcache.BigCache
}

var _ Storage[[]byte] = &BigCacheStorage{}

// BigCacheStorageConfig holds configuration for BigCacheStorage
type BigCacheStorageConfig struct {
	bigcache.Config
}

// NewBigCacheStorage creates a new BigCache-based storage
func NewBigCacheStorage(ctx context.Context, config BigCacheStorageConfig) (*BigCacheStorage, error) {
	cache, err := bigcache.New(ctx, config.Config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigcache")
	}
	return &BigCacheStorage{cache: cache}, nil
}

func (b *BigCacheStorage) Set(_ context.Context, key string, value []byte) error {
	if err := b.cache.Set(key, value); err != nil {
		return errors.Wrapf(err, "failed to set value in bigcache for key: %s", key)
	}
	return nil
}

func (b *BigCacheStorage) Get(_ context.Context, key string) ([]byte, error) {
	data, err := b.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, errors.Wrapf(&ErrKeyNotFound{}, "key not found in bigcache for key: %s", key)
		}
		return nil, errors.Wrapf(err, "failed to get value from bigcache for key: %s", key)
	}
	return data, nil
}

// Del removes key; a missing key is not an error
func (b *BigCacheStorage) Del(_ context.Context, key string) error {
	if err := b.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return errors.Wrapf(err, "failed to delete value from bigcache for key: %s", key)
	}
	return nil
}

func (b *BigCacheStorage) Clear(_ context.Context) error {
	if err := b.cache.Reset(); err != nil {
		return errors.Wrap(err, "failed to reset bigcache")
	}
	return nil
}

// Close releases BigCache's cleanup goroutine
func (b *BigCacheStorage) Close() error {
	if err := b.cache.Close(); err != nil {
		return errors.Wrap(err, "failed to close bigcache")
	}
	return nil
}
