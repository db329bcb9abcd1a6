package echoutil

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestID gives each request an id, unless the client has sent one.
//
// The id is echoed back in X-Request-Id.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		rid := c.Request().Header.Get(echo.HeaderXRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, rid)
		return next(c)
	}
}

// Metrics counts requests by method, route and status code.
//
// Routes are the registered patterns, like "/api/v1/instances/:id/".
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)

		code := c.Response().Status
		if err != nil {
			var herr *echo.HTTPError
			if errors.As(err, &herr) {
				code = herr.Code
			} else {
				code = http.StatusInternalServerError
			}
		}
		metrics.APIRequests.
			WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(code)).
			Inc()
		return err
	}
}
