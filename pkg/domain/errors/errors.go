package errors

import "errors"

var (
	// requested entity is not found.
	ErrMissing = errors.New("missing")

	// requested entity is found too much.
	ErrTooMuch = errors.New("too much")

	// the change conflicts with the current state.
	//
	// For example, compare-and-set has lost its race.
	ErrConflict = errors.New("conflict")

	// the entity is locked by others.
	ErrLocked = errors.New("locked")
)
