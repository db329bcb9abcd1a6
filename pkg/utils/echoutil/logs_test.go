package echoutil_test

import (
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/echoutil"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

func TestSetLevel(t *testing.T) {
	for given, expected := range map[string]log.Lvl{
		"debug":   log.DEBUG,
		"INFO":    log.INFO,
		"":        log.WARN,
		"error":   log.ERROR,
		"off":     log.OFF,
		"verbose": log.WARN,
	} {
		e := echo.New()
		echoutil.SetLevel(e, given)
		if actual := e.Logger.Level(); actual != expected {
			t.Errorf("%q: (actual, expected) = (%d, %d)", given, actual, expected)
		}
	}
}
