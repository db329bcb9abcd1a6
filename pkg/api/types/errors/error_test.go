package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	apierr "github.com/fnndsc/plinst/pkg/api/types/errors"
	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/errors/dberrors"
)

func TestFromError(t *testing.T) {
	theory := func(err error, code int) func(*testing.T) {
		return func(t *testing.T) {
			herr := apierr.FromError(err)
			if herr.Code != code {
				t.Errorf("code: (actual, expected) = (%d, %d)", herr.Code, code)
			}
			if !errors.Is(herr.Internal, err) {
				t.Errorf("internal error should wrap the cause: %v", herr.Internal)
			}
		}
	}

	t.Run("missing", theory(
		dberrors.Missing{Table: "plugin_instance", Identity: "id = 3"}, http.StatusNotFound,
	))
	t.Run("invalid transition", theory(
		domain.NewErrInvalidTransition(domain.FinishedSuccessfully, domain.Cancelled), http.StatusConflict,
	))
	t.Run("locked", theory(
		fmt.Errorf("%w: instance 3 is claimed by a task", domerr.ErrLocked), http.StatusConflict,
	))
	t.Run("invalid request", theory(
		fmt.Errorf("%w: owner is required", domain.ErrInvalidRequest), http.StatusBadRequest,
	))
	t.Run("others", theory(errors.New("connection refused"), http.StatusInternalServerError))

	t.Run("http error passes through", func(t *testing.T) {
		given := apierr.NotFound()
		if got := apierr.FromError(fmt.Errorf("wrapped: %w", given)); got != given {
			t.Errorf("(actual, expected) = (%v, %v)", got, given)
		}
	})
}

func TestNewErrorMessage(t *testing.T) {
	cause := errors.New("fake error")
	herr := apierr.NewErrorMessage(
		http.StatusUnauthorized, "unauthorized",
		apierr.WithAdvice("X-Remote-User header is required"), apierr.WithError(cause),
	)

	body, err := json.Marshal(herr.Message)
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"message":{"reason":"unauthorized","advice":"X-Remote-User header is required"}}`
	if string(body) != expected {
		t.Errorf("body: (actual, expected) = (%s, %s)", body, expected)
	}
	if !errors.Is(herr.Internal, cause) {
		t.Errorf("internal error should wrap the cause: %v", herr.Internal)
	}
}
