package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configs "github.com/fnndsc/plinst/pkg/configs/backend"
	"github.com/fnndsc/plinst/pkg/domain/plinst"
	"github.com/fnndsc/plinst/pkg/utils/filewatch"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"golang.org/x/sync/errgroup"
)

func main() {
	pconfig := flag.String("config", os.Getenv("PLINST_CONFIG"), "path to config file")
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("PLINST_SCHEMA"), "schema repository path (postgres only)",
	)
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	logger := log.Default()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.LoadBackendConfig(*pconfig)).OrFatal(logger)
	p := try.To(plinst.New(
		ctx, conf,
		plinst.WithSchemaRepository(*pSchemaRepo),
		plinst.WithLogger(logger),
	)).OrFatal(logger)
	defer p.Close()

	{
		ctx_, ccan := p.Schema().Database().Context(ctx)
		defer ccan()
		ctx = ctx_
	}

	e := BuildServer(p.Database().Instances(), p.Creator(), p.Reconciler(), *loglevel)
	for _, r := range e.Routes() {
		e.Logger.Info("route: ", r.Method, " ", r.Path)
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		addr := fmt.Sprintf(":%d", conf.Port())
		var err error
		if cert, key := *pcert, *pkey; cert != "" && key != "" {
			err = e.StartTLS(addr, cert, key)
		} else {
			err = e.Start(addr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ectx.Done()
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(graceful)
	})

	if err := eg.Wait(); err != nil {
		logger.Fatal(err)
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		logger.Fatalf("server is stopped by: %s", cause)
	}
}
