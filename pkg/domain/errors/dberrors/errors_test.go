package dberrors_test

import (
	"errors"
	"fmt"
	"testing"

	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
)

func TestErrors_Unwrap(t *testing.T) {
	for name, testcase := range map[string]struct {
		err      error
		expected error
	}{
		"Missing is ErrMissing": {
			err:      dberrors.Missing{Table: "plugin_instance", Identity: "id=1"},
			expected: domerr.ErrMissing,
		},
		"TooMuch is ErrTooMuch": {
			err:      dberrors.TooMuch{Table: "plugin_instance", Identity: "id=1", Expected: 1},
			expected: domerr.ErrTooMuch,
		},
		"Conflict is ErrConflict": {
			err:      dberrors.Conflict{Table: "plugin_instance", Identity: "id=1", Reason: "status changed"},
			expected: domerr.ErrConflict,
		},
	} {
		t.Run(name, func(t *testing.T) {
			wrapped := fmt.Errorf("wrapped: %w", testcase.err)
			if !errors.Is(wrapped, testcase.expected) {
				t.Errorf("%v is not %v", wrapped, testcase.expected)
			}
		})
	}
}
