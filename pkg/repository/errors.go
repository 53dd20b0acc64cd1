package repository

import "errors"

var (
	// ErrAlreadyExists is returned when attempting to create an entity that already exists
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when an optimistic version check fails
	ErrConflict = errors.New("entity conflict detected")
)

// IsConflictError reports whether a write lost a create or version race.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}
