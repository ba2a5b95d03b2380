package swrcache

import (
	"context"
)

// State represents the temporal state of a cached entry
type State int8

const (
	StateFresh   State = iota // Within the primary lifetime, served as is
	StateStale                // Past ttl but within the grace window, served while refreshing
	StateExpired              // Past the grace window, treated as absent and evicted on read
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Storage is the capability contract every backend satisfies.
// Get must report a missing key with an error for which IsErrKeyNotFound returns true.
// Del must not fail on a missing key.
type Storage[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, value T) error
	Del(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Operation is the expensive call that a Func caches
type Operation[A, T any] func(ctx context.Context, args A) (T, error)
