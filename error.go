package swrcache

import (
	"errors"
)

// ErrKeyNotFound indicates that the requested key was not found in the cache
type ErrKeyNotFound struct {
	Expired bool // whether an entry existed but was evicted by this read because it expired
}

// Error returns a string representation of the error
func (e *ErrKeyNotFound) Error() string {
	if e.Expired {
		return "key not found (expired)"
	}
	return "key not found"
}

// IsErrKeyNotFound checks if the error is an ErrKeyNotFound
func IsErrKeyNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *ErrKeyNotFound
	return errors.As(err, &e)
}
