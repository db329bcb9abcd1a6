// Package errors composes error responses of the HTTP API.
//
// Error responses are JSON like {"message": {"reason": "...", "advice": "..."}}.
package errors

import (
	"errors"
	"net/http"

	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Message ErrorMessage `json:"message"`
}

type ErrorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`

	// Cause is logged, but not responded.
	Cause error `json:"-"`
}

func (e ErrorMessage) Error() string {
	msg := e.Reason
	if e.Advice != "" {
		msg += ": " + e.Advice
	}
	if e.Cause != nil {
		msg += " (caused by: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

type ErrorMessageOption func(*ErrorMessage)

func WithAdvice(advice string) ErrorMessageOption {
	return func(m *ErrorMessage) {
		m.Advice = advice
	}
}

func WithError(err error) ErrorMessageOption {
	return func(m *ErrorMessage) {
		m.Cause = err
	}
}

// NewErrorMessage makes an error responded with code and ErrorResponse.
func NewErrorMessage(code int, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := ErrorMessage{Reason: reason}
	for _, opt := range opts {
		opt(&msg)
	}
	return echo.NewHTTPError(code, ErrorResponse{Message: msg}).SetInternal(msg)
}

func NotFound(options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(http.StatusNotFound, "not found", options...)
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusBadRequest, "bad request", WithAdvice(advice), WithError(err))
}

func Unauthorized(advice string) *echo.HTTPError {
	return NewErrorMessage(http.StatusUnauthorized, "unauthorized", WithAdvice(advice))
}

func Conflict(reason string, options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(http.StatusConflict, reason, options...)
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusInternalServerError, "unexpected error", WithError(err))
}

// FromError converts an error from domain services into a response.
//
// ErrMissing is 404, ErrInvalidTransition is 409, ErrInvalidRequest is 400,
// and others are 500. *echo.HTTPError passes through.
func FromError(err error) *echo.HTTPError {
	var herr *echo.HTTPError
	switch {
	case errors.As(err, &herr):
		return herr
	case errors.Is(err, domerr.ErrMissing):
		return NotFound(WithError(err))
	case errors.Is(err, domain.ErrInvalidTransition):
		return Conflict(
			"status can not be changed",
			WithAdvice("the instance may have finished already."),
			WithError(err),
		)
	case errors.Is(err, domerr.ErrLocked):
		return Conflict(
			"the instance is busy",
			WithAdvice("retry later."),
			WithError(err),
		)
	case errors.Is(err, domain.ErrInvalidRequest):
		return BadRequest(err.Error(), err)
	default:
		return InternalServerError(err)
	}
}
