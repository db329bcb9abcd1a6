package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is the status change not allowed by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidRequest is a request rejected by validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// InvalidTransitionError tells which transition is rejected.
type InvalidTransitionError struct {
	Current   InstanceStatus
	Requested InstanceStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func NewErrInvalidTransition(current, requested InstanceStatus) error {
	return &InvalidTransitionError{Current: current, Requested: requested}
}

var transitions = map[InstanceStatus][]InstanceStatus{
	Created:          {Waiting, Cancelled},
	Waiting:          {Scheduled, Cancelled},
	Scheduled:        {Started, Cancelled},
	Started:          {RegisteringFiles, FinishedSuccessfully, FinishedWithError, Cancelled},
	RegisteringFiles: {FinishedSuccessfully, FinishedWithError, Cancelled},
}

// CanTransit checks that the state machine allows current -> next.
//
// Staying in the same status is not a transition, and is rejected.
func CanTransit(current, next InstanceStatus) error {
	for _, s := range transitions[current] {
		if s == next {
			return nil
		}
	}
	return NewErrInvalidTransition(current, next)
}

// ValidateRequest checks a status change requested by clients.
//
// Clients can only cancel.
//
// # Returns
//
// - bool: true if the request changes status. Cancelling a cancelled instance is a no-op.
//
// - error: ErrInvalidRequest for statuses other than Cancelled,
// InvalidTransitionError for instances which have finished.
func ValidateRequest(current, requested InstanceStatus) (bool, error) {
	if requested != Cancelled {
		return false, fmt.Errorf(
			"%w: status can only be changed to %s, not %s",
			ErrInvalidRequest, Cancelled, requested,
		)
	}
	if current == Cancelled {
		return false, nil
	}
	if err := CanTransit(current, requested); err != nil {
		return false, err
	}
	return true, nil
}
