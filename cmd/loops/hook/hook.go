package hook

import (
	"context"
	"errors"
)

// Hook is an interface for before/after hooks.
type Hook[T any] interface {
	// Before is called before the change described by T is committed.
	//
	// When it returns an error, the change should be given up.
	Before(context.Context, T) error

	// After is called after the change described by T is committed.
	After(context.Context, T) error
}

var ErrHookFailed = errors.New("hook failed")
