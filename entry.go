package swrcache

import "time"

// Entry wraps cached content with the metadata needed to classify it.
// A zero TTL means the entry never expires by time, a zero StaleTTL means
// there is no grace window beyond TTL.
type Entry[T any] struct {
	Content   T             `json:"content" msgpack:"content"`
	CreatedAt time.Time     `json:"createdAt" msgpack:"createdAt"`
	TTL       time.Duration `json:"ttl,omitempty" msgpack:"ttl,omitempty"`
	StaleTTL  time.Duration `json:"staleTtl,omitempty" msgpack:"staleTtl,omitempty"`
}

// State classifies the entry as of now
func (e *Entry[T]) State(now time.Time) State {
	return Classify(e.CreatedAt, e.TTL, e.StaleTTL, now)
}

// Item is an entry together with the state it was classified in when read
type Item[T any] struct {
	*Entry[T]
	State State
}

// NormalizeStaleTTL returns the stale boundary measured from creation time.
//
// A staleTTL shorter than ttl is read as a grace window that starts at the
// ttl boundary, so the boundary becomes ttl+staleTTL. Otherwise staleTTL is
// absolute from creation, and falls back to ttl when unset.
func NormalizeStaleTTL(ttl, staleTTL time.Duration) time.Duration {
	if staleTTL > 0 && ttl > 0 && staleTTL < ttl {
		return ttl + staleTTL
	}
	if staleTTL > 0 {
		return staleTTL
	}
	return ttl
}

// Classify maps an entry's lifetimes to its state at now.
// An entry read exactly at createdAt+ttl is still fresh.
func Classify(createdAt time.Time, ttl, staleTTL time.Duration, now time.Time) State {
	expired := ttl > 0 && now.After(createdAt.Add(ttl))
	if !expired {
		return StateFresh
	}

	boundary := NormalizeStaleTTL(ttl, staleTTL)
	if boundary > 0 && !now.After(createdAt.Add(boundary)) {
		return StateStale
	}
	return StateExpired
}
