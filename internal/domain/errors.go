package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrNoResults            = errors.New("no results")
	ErrConflict             = errors.New("conflict")
	ErrVersionConflict      = errors.New("version conflict")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidInput         = errors.New("invalid input")
)

// IsConflict reports whether err means the caller should reload and retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSerializationFailure)
}
