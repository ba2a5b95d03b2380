package swrcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// Container owns the read/write contract over a storage backend.
// It classifies entries on read, evicts expired ones and stamps lifetime
// metadata on write. It keeps no copy of any entry beyond a single call.
type Container[T any] struct {
	storage Storage[*Entry[T]]
	logger  *slog.Logger
}

// NewContainer creates a container over the given storage
func NewContainer[T any](storage Storage[*Entry[T]], logger *slog.Logger) *Container[T] {
	if storage == nil {
		panic("storage is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Container[T]{
		storage: storage,
		logger:  logger,
	}
}

// EntryOption configures the lifetimes stamped on a written entry
type EntryOption func(*entryOptions)

type entryOptions struct {
	ttl      time.Duration
	staleTTL time.Duration
}

// WithTTL sets the freshness window of the written entry. Zero means never expire.
func WithTTL(ttl time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.ttl = ttl
	}
}

// WithStaleTTL sets the staleness window of the written entry. Zero means no grace window.
func WithStaleTTL(staleTTL time.Duration) EntryOption {
	return func(o *entryOptions) {
		o.staleTTL = staleTTL
	}
}

// GetItem reads and classifies the entry stored under key.
// Expired entries are removed from storage and reported as ErrKeyNotFound
// with Expired set, so callers never observe an expired item.
func (c *Container[T]) GetItem(ctx context.Context, key string) (*Item[T], error) {
	entry, err := c.storage.Get(ctx, key)
	if err != nil {
		if IsErrKeyNotFound(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get from storage failed for key: %s", key)
	}
	if entry == nil {
		return nil, errors.Wrapf(&ErrKeyNotFound{}, "nil entry in storage for key: %s", key)
	}

	state := entry.State(NowFunc())
	if state == StateExpired {
		if err := c.storage.Del(ctx, key); err != nil {
			return nil, errors.Wrapf(err, "evict expired entry failed for key: %s", key)
		}
		c.logger.DebugContext(ctx, "evicted expired entry", "key", key)
		return nil, errors.Wrapf(&ErrKeyNotFound{Expired: true}, "entry expired for key: %s", key)
	}

	return &Item[T]{Entry: entry, State: state}, nil
}

// SetItem writes content under key, replacing any previous entry
func (c *Container[T]) SetItem(ctx context.Context, key string, content T, opts ...EntryOption) error {
	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.staleTTL > 0 && o.ttl > 0 && o.staleTTL < o.ttl {
		c.logger.DebugContext(ctx, "staleTtl shorter than ttl, treating it as a grace window after ttl",
			"key", key,
			"ttl", o.ttl,
			"staleTtl", o.staleTTL,
			"staleBoundary", NormalizeStaleTTL(o.ttl, o.staleTTL))
	}

	entry := &Entry[T]{
		Content:   content,
		CreatedAt: NowFunc(),
		TTL:       o.ttl,
		StaleTTL:  o.staleTTL,
	}
	if err := c.storage.Set(ctx, key, entry); err != nil {
		return errors.Wrapf(err, "set in storage failed for key: %s", key)
	}
	return nil
}

// RemoveItem deletes the entry under key. A missing key is not an error.
func (c *Container[T]) RemoveItem(ctx context.Context, key string) error {
	if err := c.storage.Del(ctx, key); err != nil {
		return errors.Wrapf(err, "delete from storage failed for key: %s", key)
	}
	return nil
}

// Unset is an alias of RemoveItem
func (c *Container[T]) Unset(ctx context.Context, key string) error {
	return c.RemoveItem(ctx, key)
}

// Clear wipes the underlying storage
func (c *Container[T]) Clear(ctx context.Context) error {
	if err := c.storage.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear storage failed")
	}
	return nil
}
