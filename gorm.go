package swrcache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMStorage keeps values as JSON rows in a relational table
type GORMStorage[T any] struct {
	db        *gorm.DB
	tableName string
	keyPrefix string
}

var _ Storage[any] = &GORMStorage[any]{}

type storageRow struct {
	Key       string         `gorm:"not null;primaryKey;size:255"`
	Value     datatypes.JSON `gorm:"not null;type:json"`
	UpdatedAt time.Time      `gorm:"not null;index"`
}

// GORMStorageConfig holds configuration for GORMStorage
type GORMStorageConfig struct {
	// DB is the GORM database connection
	DB *gorm.DB

	// TableName is the name of the storage table
	TableName string

	// KeyPrefix is the prefix for all keys (optional).
	// Clear only removes rows under this prefix.
	KeyPrefix string
}

// NewGORMStorage creates a new GORM-based storage with configuration
func NewGORMStorage[T any](config *GORMStorageConfig) *GORMStorage[T] {
	if config.DB == nil {
		panic("DB is required")
	}
	if config.TableName == "" {
		panic("TableName is required")
	}

	return &GORMStorage[T]{
		db:        config.DB,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
	}
}

func (g *GORMStorage[T]) prefixedKey(key string) string {
	return g.keyPrefix + key
}

func (g *GORMStorage[T]) table(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).Table(g.tableName)
}

// Migrate creates or updates the storage table schema
func (g *GORMStorage[T]) Migrate(ctx context.Context) error {
	if err := g.table(ctx).AutoMigrate(&storageRow{}); err != nil {
		return errors.Wrap(err, "failed to migrate storage table")
	}
	return nil
}

func (g *GORMStorage[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal value for key: %s", key)
	}

	row := storageRow{
		Key:   g.prefixedKey(key),
		Value: data,
	}

	if err := g.table(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&row).Error; err != nil {
		return errors.Wrapf(err, "failed to set storage row for key: %s", key)
	}
	return nil
}

func (g *GORMStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	var row storageRow

	if err := g.table(ctx).
		Where("key = ?", g.prefixedKey(key)).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, errors.Wrapf(&ErrKeyNotFound{}, "key not found in gorm storage for key: %s", key)
		}
		return zero, errors.Wrapf(err, "failed to get storage row for key: %s", key)
	}

	var value T
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return zero, errors.Wrapf(err, "failed to unmarshal value for key: %s", key)
	}
	return value, nil
}

func (g *GORMStorage[T]) Del(ctx context.Context, key string) error {
	if err := g.table(ctx).
		Where("key = ?", g.prefixedKey(key)).
		Delete(nil).Error; err != nil {
		return errors.Wrapf(err, "failed to delete storage row for key: %s", key)
	}
	return nil
}

// Clear deletes every row whose key starts with the configured prefix
func (g *GORMStorage[T]) Clear(ctx context.Context) error {
	if err := g.table(ctx).
		Where("key LIKE ? ESCAPE ?", escapeLike(g.keyPrefix)+"%", `\`).
		Delete(nil).Error; err != nil {
		return errors.Wrap(err, "failed to clear storage table")
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
