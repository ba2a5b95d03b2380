package swrcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(tb testing.TB) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(tb, err)
	return db
}

func newGORMStorage[T any](tb testing.TB, tableName string) *GORMStorage[T] {
	storage := NewGORMStorage[T](&GORMStorageConfig{
		DB:        openTestDB(tb),
		TableName: tableName,
	})
	require.NoError(tb, storage.Migrate(context.Background()))
	return storage
}

func TestGORMStorageBasics(t *testing.T) {
	ctx := context.Background()
	storage := newGORMStorage[string](t, "test_storage")

	require.NoError(t, storage.Set(ctx, "key1", "value1"))
	require.NoError(t, storage.Set(ctx, "key1", "value2"), "set upserts")

	value, err := storage.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value2", value)

	require.NoError(t, storage.Del(ctx, "key1"))
	require.NoError(t, storage.Del(ctx, "key1"))

	_, err = storage.Get(ctx, "key1")
	assert.True(t, IsErrKeyNotFound(err))
}

func TestGORMStorageWithBytes(t *testing.T) {
	ctx := context.Background()
	storage := newGORMStorage[[]byte](t, "bytes_storage")

	testData := []byte("raw binary data \x00\x01\x02")
	require.NoError(t, storage.Set(ctx, "key1", testData))

	value, err := storage.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, testData, value)
}

func TestGORMStoragePrefixAndClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	prod := NewGORMStorage[string](&GORMStorageConfig{
		DB:        db,
		TableName: "shared_storage",
		KeyPrefix: "prod:",
	})
	require.NoError(t, prod.Migrate(ctx))

	dev := NewGORMStorage[string](&GORMStorageConfig{
		DB:        db,
		TableName: "shared_storage",
		KeyPrefix: "dev_1:",
	})
	other := NewGORMStorage[string](&GORMStorageConfig{
		DB:        db,
		TableName: "shared_storage",
		KeyPrefix: "devX1:",
	})

	require.NoError(t, prod.Set(ctx, "api_key", "prod-secret"))
	require.NoError(t, dev.Set(ctx, "api_key", "dev-secret"))
	require.NoError(t, other.Set(ctx, "api_key", "other-secret"))

	value, err := dev.Get(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "dev-secret", value)

	require.NoError(t, dev.Clear(ctx))

	_, err = dev.Get(ctx, "api_key")
	assert.True(t, IsErrKeyNotFound(err))

	value, err = prod.Get(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "prod-secret", value)

	value, err = other.Get(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "other-secret", value, "underscore in the prefix must not act as a wildcard")
}

func TestGORMStorageEntries(t *testing.T) {
	ctx := context.Background()
	clock := NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	defer clock.Install()()

	c := NewContainer[lookup](newGORMStorage[*Entry[lookup]](t, "entries"), nil)

	require.NoError(t, c.SetItem(ctx, "k", lookup{ID: "a", Page: 1},
		WithTTL(50*time.Millisecond),
		WithStaleTTL(100*time.Millisecond),
	))

	clock.Advance(60 * time.Millisecond)
	item, err := c.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateStale, item.State)
	assert.Equal(t, lookup{ID: "a", Page: 1}, item.Content)

	clock.Advance(50 * time.Millisecond)
	_, err = c.GetItem(ctx, "k")
	assert.True(t, IsErrKeyNotFound(err))
}

func TestNewGORMStorageValidation(t *testing.T) {
	assert.Panics(t, func() {
		NewGORMStorage[string](&GORMStorageConfig{TableName: "t"})
	})
	assert.Panics(t, func() {
		NewGORMStorage[string](&GORMStorageConfig{DB: openTestDB(t)})
	})
}
