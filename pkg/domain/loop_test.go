package domain_test

import (
	"errors"
	"testing"

	"github.com/fnndsc/plinst/pkg/domain"
)

func TestAsLoopType(t *testing.T) {
	for _, lt := range []domain.LoopType{
		domain.Promote, domain.CancelUnrunnable, domain.Dispatch,
		domain.Poll, domain.StuckRecovery, domain.RemoteCleanup,
	} {
		actual, err := domain.AsLoopType(lt.String())
		if err != nil {
			t.Errorf("%s: unexpected error: %v", lt, err)
		}
		if actual != lt {
			t.Errorf("(actual, expected) = (%s, %s)", actual, lt)
		}
	}

	if _, err := domain.AsLoopType("projection"); !errors.Is(err, domain.ErrUnknownLoopType) {
		t.Errorf("unknown loop type is accepted: %v", err)
	}
}
