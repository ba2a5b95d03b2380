package swrcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedStorage wraps a storage, counts calls and can inject failures
type trackedStorage[T any] struct {
	Storage[T]
	gets, sets, dels atomic.Int64

	getErr, setErr, delErr error
}

func newTrackedStorage[T any]() *trackedStorage[T] {
	return &trackedStorage[T]{Storage: NewMemoryStorage[T]()}
}

func (s *trackedStorage[T]) Get(ctx context.Context, key string) (T, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		var zero T
		return zero, s.getErr
	}
	return s.Storage.Get(ctx, key)
}

func (s *trackedStorage[T]) Set(ctx context.Context, key string, value T) error {
	s.sets.Add(1)
	if s.setErr != nil {
		return s.setErr
	}
	return s.Storage.Set(ctx, key, value)
}

func (s *trackedStorage[T]) Del(ctx context.Context, key string) error {
	s.dels.Add(1)
	if s.delErr != nil {
		return s.delErr
	}
	return s.Storage.Del(ctx, key)
}

func (s *trackedStorage[T]) calls() int64 {
	return s.gets.Load() + s.sets.Load() + s.dels.Load()
}

func TestContainerRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(time.Now())
	defer clock.Install()()

	c := NewContainer[string](NewMemoryStorage[*Entry[string]](), nil)

	require.NoError(t, c.SetItem(ctx, "k", "v", WithTTL(time.Second)))

	item, err := c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", item.Content)
	assert.Equal(t, StateFresh, item.State)
	assert.Equal(t, clock.Now(), item.CreatedAt)
	assert.Equal(t, time.Second, item.TTL)
	assert.Zero(t, item.StaleTTL)
}

func TestContainerDefaultsCacheForever(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(time.Now())
	defer clock.Install()()

	c := NewContainer[int](NewMemoryStorage[*Entry[int]](), nil)
	require.NoError(t, c.SetItem(ctx, "k", 42))

	clock.Advance(10 * 365 * 24 * time.Hour)

	item, err := c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 42, item.Content)
	assert.Equal(t, StateFresh, item.State)
}

func TestContainerStaleLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(time.Now())
	defer clock.Install()()

	storage := NewMemoryStorage[*Entry[string]]()
	c := NewContainer[string](storage, nil)

	require.NoError(t, c.SetItem(ctx, "k", "v",
		WithTTL(50*time.Millisecond),
		WithStaleTTL(100*time.Millisecond),
	))

	item, err := c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateFresh, item.State)

	clock.Advance(60 * time.Millisecond)
	item, err = c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateStale, item.State)
	assert.Equal(t, "v", item.Content)

	clock.Advance(50 * time.Millisecond)
	_, err = c.GetItem(ctx, "k")
	assert.True(t, IsErrKeyNotFound(err))

	var knf *ErrKeyNotFound
	require.True(t, errors.As(err, &knf))
	assert.True(t, knf.Expired, "miss should be caused by eviction")

	_, err = storage.Get(ctx, "k")
	assert.True(t, IsErrKeyNotFound(err), "expired entry should be evicted from storage")

	_, err = c.GetItem(ctx, "k")
	require.True(t, errors.As(err, &knf))
	assert.False(t, knf.Expired, "second miss is a plain miss")
}

func TestContainerOverwrite(t *testing.T) {
	ctx := context.Background()
	c := NewContainer[string](NewMemoryStorage[*Entry[string]](), nil)

	require.NoError(t, c.SetItem(ctx, "k", "v1", WithTTL(time.Minute), WithStaleTTL(time.Hour)))
	require.NoError(t, c.SetItem(ctx, "k", "v2"))

	item, err := c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", item.Content)
	assert.Zero(t, item.TTL, "overwrite replaces the whole entry")
	assert.Zero(t, item.StaleTTL)
}

func TestContainerRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage[*Entry[string]]()
	c := NewContainer[string](storage, nil)

	require.NoError(t, c.SetItem(ctx, "a", "1"))
	require.NoError(t, c.SetItem(ctx, "b", "2"))

	require.NoError(t, c.RemoveItem(ctx, "a"))
	require.NoError(t, c.RemoveItem(ctx, "a"), "removing an absent key is not an error")
	require.NoError(t, c.Unset(ctx, "missing"))

	_, err := c.GetItem(ctx, "a")
	assert.True(t, IsErrKeyNotFound(err))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, storage.Len())
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, storage.Len())
}

func TestContainerBackendFailures(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(time.Now())
	defer clock.Install()()

	t.Run("get failure propagates", func(t *testing.T) {
		storage := newTrackedStorage[*Entry[string]]()
		storage.getErr = assert.AnError
		c := NewContainer[string](storage, nil)

		_, err := c.GetItem(ctx, "k")
		require.Error(t, err)
		assert.False(t, IsErrKeyNotFound(err))
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, int64(1), storage.gets.Load(), "no retry")
	})

	t.Run("set failure propagates", func(t *testing.T) {
		storage := newTrackedStorage[*Entry[string]]()
		storage.setErr = assert.AnError
		c := NewContainer[string](storage, nil)

		err := c.SetItem(ctx, "k", "v")
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, int64(1), storage.sets.Load())
	})

	t.Run("eviction failure propagates", func(t *testing.T) {
		storage := newTrackedStorage[*Entry[string]]()
		c := NewContainer[string](storage, nil)
		require.NoError(t, c.SetItem(ctx, "k", "v", WithTTL(time.Millisecond)))
		clock.Advance(time.Second)

		storage.delErr = assert.AnError
		_, err := c.GetItem(ctx, "k")
		assert.ErrorIs(t, err, assert.AnError)
		assert.False(t, IsErrKeyNotFound(err))
	})
}

func TestNewContainerRequiresStorage(t *testing.T) {
	assert.Panics(t, func() {
		NewContainer[string](nil, nil)
	})
}
