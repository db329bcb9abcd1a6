package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	configs "github.com/fnndsc/plinst/pkg/configs/backend"
	cfg_hook "github.com/fnndsc/plinst/pkg/configs/hook"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/plinst"
	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/fnndsc/plinst/pkg/utils/args"
	"github.com/fnndsc/plinst/pkg/utils/filewatch"
	"github.com/fnndsc/plinst/pkg/utils/try"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := byLogger(log.Default(), Copied(), WithTimestamp())
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("PLINST_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("PLINST_SCHEMA"), "schema repository path (postgres only)",
	)
	phooks := flag.String(
		"hooks", os.Getenv("PLINST_HOOK_CONFIG"), "path to hook config file",
	)
	pmetrics := flag.String(
		"metrics", ":9100", "address to serve metrics on. empty to disable",
	)
	loopType := args.Parser(domain.AsLoopType)
	flag.Var(loopType, "type", "one of loop type (promote|cancel_unrunnable|dispatch|poll|stuck_recovery|remote_cleanup)")
	policy := args.Parser(recurring.ParsePolicy)
	flag.Var(
		policy, "policy",
		`loop policy (syntax: forever[:COOLDOWN]|backlog).`+
			` "forever[:COOLDOWN]" = run forever until error. When backlog is over, `+
			`wait COOLDOWN (optional duration. default: 0) as interval.`+
			` "backlog" = run until error or backlog is over.`,
	)
	flag.Parse()

	if !loopType.IsSet() {
		logger.Fatal("-type is required")
	}
	if !policy.IsSet() {
		logger.Fatal("-policy is required")
	}

	{
		// config or hooks are modified: exit, and be restarted by the supervisor.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig, *phooks)
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

	var hooks hook.Lifecycle = hook.None[apiinstances.Detail]{}
	if hookPath := *phooks; hookPath != "" {
		hc := try.To(cfg_hook.Load(hookPath)).OrFatal(logger)
		hooks = hook.Build(hc.Lifecycle)
	}

	logger.Printf(
		`start loop "%s" /w policy "%s"`,
		loopType.Value().String(), policy.Value().String(),
	)

	eg, ectx := errgroup.WithContext(ctx)
	if addr := *pmetrics; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: addr, Handler: mux}
		eg.Go(func() error {
			<-ectx.Done()
			sctx, scan := context.WithTimeout(context.Background(), 5*time.Second)
			defer scan()
			return server.Shutdown(sctx)
		})
		eg.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		defer cancel()
		return StartLoop(ectx, logger, p, LoopManifest{
			Type:     loopType.Value(),
			Policy:   recurring.UntilError(policy.Value()),
			Hooks:    hooks,
			Debounce: conf.Scheduling().Debounce(),
		})
	})

	err := eg.Wait()
	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		logger.Fatal(err, " (loop context is cancelled by: ", context.Cause(ctx), ")")
	}
	logger.Fatal(err)
}
