// Package echoutil holds middlewares and logging setup shared by echo servers.
package echoutil

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// LogHandlerFunc logs a request and its response with latency.
//
// Lines carry the request id given by RequestID, if any.
func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		begin := time.Now()
		c.Logger().Infof("< [%s] %s %s", rid, req.Method, req.URL)

		defer func() {
			c.Logger().Infof(
				"> [%s] %s %s: status = %d in %s / error = %+v",
				rid, req.Method, req.URL, c.Response().Status, time.Since(begin), err,
			)
		}()
		return next(c)
	}
}

var levels = map[string]log.Lvl{
	"debug": log.DEBUG,
	"info":  log.INFO,
	"warn":  log.WARN,
	"":      log.WARN,
	"error": log.ERROR,
	"off":   log.OFF,
}

// SetLevel sets level of e.Logger by name. Unknown names fall back to warn.
func SetLevel(e *echo.Echo, loglevel string) {
	lvl, ok := levels[strings.ToLower(loglevel)]
	if !ok {
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s . fall-backed to warn", loglevel)
		return
	}
	e.Logger.SetLevel(lvl)
}
