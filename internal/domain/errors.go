package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a guarded update finds the row
	// no longer in the expected state.
	ErrConcurrentModification = errors.New("concurrent modification")
)
