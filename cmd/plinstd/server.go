package main

import (
	"fmt"
	"strings"

	"github.com/fnndsc/plinst/cmd/plinstd/handlers"
	"github.com/fnndsc/plinst/pkg/domain/instance/create"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/fnndsc/plinst/pkg/utils/echoutil"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/singleflight"
)

var API_ROOT = "/api/v1"

func api(subpath string) string {
	if !strings.HasSuffix(subpath, "/") {
		subpath += "/"
	}
	return fmt.Sprintf("%s/%s", API_ROOT, subpath)
}

func BuildServer(
	db kdb.Interface,
	creator *create.Creator,
	reconciler *reconcile.Reconciler,
	loglevel string,
) *echo.Echo {
	e := echo.New()
	echoutil.SetLevel(e, loglevel)

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}

	e.Pre(middleware.AddTrailingSlash())
	e.Use(echoutil.RequestID)
	e.Use(echoutil.LogHandlerFunc)
	e.Use(echoutil.Metrics)

	{
		id := "id"
		polls := new(singleflight.Group)
		e.POST(api("instances"), handlers.CreateInstanceHandler(creator))
		e.GET(api("instances/:id"), handlers.GetInstanceHandler(db, reconciler, polls, id))
		e.PUT(api("instances/:id"), handlers.UpdateInstanceHandler(db, reconciler, id))
		e.GET(api("instances/:id/files"), handlers.GetInstanceFilesHandler(db, id))
	}

	e.GET("/metrics/", echo.WrapHandler(metrics.Handler()))

	return e
}
