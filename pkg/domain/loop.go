package domain

import (
	"errors"
	"fmt"
)

type LoopType string

const (
	// created -> waiting, and waiting -> scheduled (and then submit)
	Promote LoopType = "promote"

	// waiting -> cancelled when some upstream has failed.
	CancelUnrunnable LoopType = "cancel_unrunnable"

	// scheduled -> started, for instances left scheduled.
	Dispatch LoopType = "dispatch"

	// started -> terminal, with output registration.
	Poll LoopType = "poll"

	// in-progress too long -> cancelled.
	StuckRecovery LoopType = "stuck_recovery"

	// retry deleting remote jobs which could not be deleted before.
	RemoteCleanup LoopType = "remote_cleanup"
)

func (lt LoopType) String() string {
	return string(lt)
}

func (lt LoopType) IsKnown() bool {
	switch lt {
	case Promote, CancelUnrunnable, Dispatch, Poll, StuckRecovery, RemoteCleanup:
		return true
	default:
		return false
	}
}

func AsLoopType(s string) (LoopType, error) {
	l := LoopType(s)
	if l.IsKnown() {
		return l, nil
	}
	return l, fmt.Errorf(`%w: "%s"`, ErrUnknownLoopType, s)
}

var ErrUnknownLoopType = errors.New("unknown loop type")
