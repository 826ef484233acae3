package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrStaleState means a guarded update matched no row because the record
	// was not in the expected state.
	ErrStaleState = errors.New("stale state")
)
