package swrcache

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// transformStorage adapts a Storage[A] to a Storage[B] through a codec
type transformStorage[A, B any] struct {
	storage Storage[A]
	encode  func(B) (A, error)
	decode  func(A) (B, error)
}

// Transform creates a Storage[B] over storage with custom encode/decode functions
func Transform[A, B any](
	storage Storage[A],
	encode func(B) (A, error),
	decode func(A) (B, error),
) Storage[B] {
	return &transformStorage[A, B]{
		storage: storage,
		encode:  encode,
		decode:  decode,
	}
}

func (t *transformStorage[A, B]) Set(ctx context.Context, key string, value B) error {
	encoded, err := t.encode(value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode value for key: %s", key)
	}
	return t.storage.Set(ctx, key, encoded)
}

func (t *transformStorage[A, B]) Get(ctx context.Context, key string) (B, error) {
	var zero B
	encoded, err := t.storage.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	decoded, err := t.decode(encoded)
	if err != nil {
		return zero, errors.Wrapf(err, "failed to decode value for key: %s", key)
	}
	return decoded, nil
}

func (t *transformStorage[A, B]) Del(ctx context.Context, key string) error {
	return t.storage.Del(ctx, key)
}

func (t *transformStorage[A, B]) Clear(ctx context.Context) error {
	return t.storage.Clear(ctx)
}

// JSONTransform stores T as JSON in a Storage[[]byte]
func JSONTransform[T any](storage Storage[[]byte]) Storage[T] {
	return Transform(
		storage,
		func(value T) ([]byte, error) {
			return json.Marshal(value)
		},
		func(data []byte) (T, error) {
			var value T
			err := json.Unmarshal(data, &value)
			return value, err
		},
	)
}

// StringJSONTransform stores T as JSON in a Storage[string]
func StringJSONTransform[T any](storage Storage[string]) Storage[T] {
	return Transform(
		storage,
		func(value T) (string, error) {
			data, err := json.Marshal(value)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		func(data string) (T, error) {
			var value T
			err := json.Unmarshal([]byte(data), &value)
			return value, err
		},
	)
}

// MsgpackTransform stores T as msgpack in a Storage[[]byte].
// It is more compact than JSON for entries held in byte stores such as BigCache.
func MsgpackTransform[T any](storage Storage[[]byte]) Storage[T] {
	return Transform(
		storage,
		func(value T) ([]byte, error) {
			return msgpack.Marshal(value)
		},
		func(data []byte) (T, error) {
			var value T
			err := msgpack.Unmarshal(data, &value)
			return value, err
		},
	)
}
