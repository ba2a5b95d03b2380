package swrcache

import (
	"context"
	"encoding"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStorage is a storage implementation using Redis
type RedisStorage[T any] struct {
	client      redis.UniversalClient
	keyPrefix   string
	ttl         time.Duration
	expireAfter func(value any) time.Duration
	scanCount   int64
	useBinary   bool // true if T implements encoding.BinaryMarshaler and encoding.BinaryUnmarshaler
}

var _ Storage[any] = &RedisStorage[any]{}

// RedisStorageConfig holds configuration for RedisStorage
type RedisStorageConfig struct {
	// Client is the Redis client (supports both single and cluster)
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all keys (optional).
	// Clear only removes keys under this prefix.
	KeyPrefix string

	// TTL is the Redis expiry for every key.
	// Zero means no expiration.
	TTL time.Duration

	// ExpireAfter, when set, derives the Redis expiry from the stored value and
	// takes precedence over TTL. See EntryExpiry.
	ExpireAfter func(value any) time.Duration

	// ScanCount is the COUNT hint used by Clear. Defaults to 100.
	ScanCount int64
}

// EntryExpiry lets Redis drop entries on its own once the classifier would
// consider them expired. Entries without ttl never expire in Redis.
func EntryExpiry[T any]() func(value any) time.Duration {
	return func(value any) time.Duration {
		entry, ok := value.(*Entry[T])
		if !ok || entry == nil || entry.TTL <= 0 {
			return 0
		}
		return NormalizeStaleTTL(entry.TTL, entry.StaleTTL)
	}
}

// NewRedisStorage creates a new Redis-based storage with configuration
func NewRedisStorage[T any](config *RedisStorageConfig) *RedisStorage[T] {
	if config.Client == nil {
		panic("Client is required")
	}

	// MarshalBinary on value receiver, UnmarshalBinary on pointer receiver
	var zero T
	_, hasMarshal := any(zero).(encoding.BinaryMarshaler)
	_, hasUnmarshal := any(&zero).(encoding.BinaryUnmarshaler)

	scanCount := config.ScanCount
	if scanCount <= 0 {
		scanCount = 100
	}

	return &RedisStorage[T]{
		client:      config.Client,
		keyPrefix:   config.KeyPrefix,
		ttl:         config.TTL,
		expireAfter: config.ExpireAfter,
		scanCount:   scanCount,
		useBinary:   hasMarshal && hasUnmarshal,
	}
}

func (r *RedisStorage[T]) prefixedKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisStorage[T]) expiry(value T) time.Duration {
	if r.expireAfter != nil {
		return r.expireAfter(value)
	}
	return r.ttl
}

func (r *RedisStorage[T]) encode(key string, value T) (any, error) {
	if r.useBinary {
		marshaler, ok := any(value).(encoding.BinaryMarshaler)
		if !ok {
			return nil, errors.Errorf("value does not implement encoding.BinaryMarshaler for key: %s", key)
		}
		data, err := marshaler.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal binary for key: %s", key)
		}
		return data, nil
	}

	switch any(value).(type) {
	case string, []byte:
		return value, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal value for key: %s", key)
		}
		return data, nil
	}
}

// Set stores a value
func (r *RedisStorage[T]) Set(ctx context.Context, key string, value T) error {
	data, err := r.encode(key, value)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.prefixedKey(key), data, r.expiry(value)).Err(); err != nil {
		return errors.Wrapf(err, "failed to set cache entry for key: %s", key)
	}
	return nil
}

func (r *RedisStorage[T]) handleRedisError(err error, key string) error {
	if errors.Is(err, redis.Nil) {
		return errors.Wrapf(&ErrKeyNotFound{}, "key not found in redis storage for key: %s", key)
	}
	return errors.Wrapf(err, "failed to get cache entry for key: %s", key)
}

// Get retrieves a value
func (r *RedisStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	cmd := r.client.Get(ctx, r.prefixedKey(key))

	if _, ok := any(zero).(string); ok {
		str, err := cmd.Result()
		if err != nil {
			return zero, r.handleRedisError(err, key)
		}
		return any(str).(T), nil
	}

	data, err := cmd.Bytes()
	if err != nil {
		return zero, r.handleRedisError(err, key)
	}

	if _, ok := any(zero).([]byte); ok {
		return any(data).(T), nil
	}

	var value T
	if r.useBinary {
		if unmarshaler, ok := any(&value).(encoding.BinaryUnmarshaler); ok {
			if err := unmarshaler.UnmarshalBinary(data); err != nil {
				return zero, errors.Wrapf(err, "failed to unmarshal binary for key: %s", key)
			}
		}
		return value, nil
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return zero, errors.Wrapf(err, "failed to unmarshal value for key: %s", key)
	}
	return value, nil
}

// Del removes a value
func (r *RedisStorage[T]) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixedKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "failed to delete cache entry for key: %s", key)
	}
	return nil
}

// Clear removes every key under the configured prefix, on every master when
// the client is a cluster client.
func (r *RedisStorage[T]) Clear(ctx context.Context) error {
	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return r.clearNode(ctx, node)
		})
	}
	return r.clearNode(ctx, r.client)
}

func (r *RedisStorage[T]) clearNode(ctx context.Context, node redis.Cmdable) error {
	pattern := escapeGlob(r.keyPrefix) + "*"

	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, pattern, r.scanCount).Result()
		if err != nil {
			return errors.Wrapf(err, "failed to scan keys matching: %s", pattern)
		}

		// one DEL per key keeps cluster slots out of the picture
		if len(keys) > 0 {
			pipe := node.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return errors.Wrap(err, "failed to delete scanned keys")
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
