package swrcache

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// FallbackStorage chains tiers ordered from fastest to slowest.
//
// Get returns the first hit and copies it into the faster tiers that missed.
// Set, Del and Clear apply to every tier and stop at the first failure.
type FallbackStorage[T any] struct {
	tiers  []Storage[T]
	logger *slog.Logger
}

var _ Storage[any] = &FallbackStorage[any]{}

// NewFallbackStorage composes tiers into one storage. At least one tier is required.
func NewFallbackStorage[T any](tiers ...Storage[T]) *FallbackStorage[T] {
	if len(tiers) == 0 {
		panic("at least one tier is required")
	}
	return &FallbackStorage[T]{
		tiers:  tiers,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used to report failed backfills
func (f *FallbackStorage[T]) WithLogger(logger *slog.Logger) *FallbackStorage[T] {
	f.logger = logger
	return f
}

func (f *FallbackStorage[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	for i, tier := range f.tiers {
		value, err := tier.Get(ctx, key)
		if err != nil {
			if IsErrKeyNotFound(err) {
				continue
			}
			return zero, errors.Wrapf(err, "get from tier %d failed for key: %s", i, key)
		}

		for j := 0; j < i; j++ {
			if err := f.tiers[j].Set(ctx, key, value); err != nil {
				f.logger.WarnContext(ctx, "failed to backfill tier", "tier", j, "key", key, "error", err)
			}
		}
		return value, nil
	}
	return zero, errors.Wrapf(&ErrKeyNotFound{}, "key not found in any tier for key: %s", key)
}

func (f *FallbackStorage[T]) Set(ctx context.Context, key string, value T) error {
	for i, tier := range f.tiers {
		if err := tier.Set(ctx, key, value); err != nil {
			return errors.Wrapf(err, "set in tier %d failed for key: %s", i, key)
		}
	}
	return nil
}

func (f *FallbackStorage[T]) Del(ctx context.Context, key string) error {
	for i, tier := range f.tiers {
		if err := tier.Del(ctx, key); err != nil {
			return errors.Wrapf(err, "delete from tier %d failed for key: %s", i, key)
		}
	}
	return nil
}

func (f *FallbackStorage[T]) Clear(ctx context.Context) error {
	for i, tier := range f.tiers {
		if err := tier.Clear(ctx); err != nil {
			return errors.Wrapf(err, "clear tier %d failed", i)
		}
	}
	return nil
}
