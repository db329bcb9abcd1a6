package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/cleanup"
	"github.com/fnndsc/plinst/cmd/loops/tasks/dispatch"
	"github.com/fnndsc/plinst/cmd/loops/tasks/poll"
	"github.com/fnndsc/plinst/cmd/loops/tasks/promote"
	"github.com/fnndsc/plinst/cmd/loops/tasks/stuck"
	"github.com/fnndsc/plinst/cmd/loops/tasks/unrunnable"
	"github.com/fnndsc/plinst/pkg/domain"
	"github.com/fnndsc/plinst/pkg/domain/plinst"
	"github.com/fnndsc/plinst/pkg/loop"
)

// timeout of each cycle of sweeps picking instances.
const cycleTimeout = 30 * time.Second

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

func WithTimestamp() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetFlags(l.Flags() | log.Ldate | log.Ltime | log.Lmicroseconds)
		return l
	}
}

// Wrapper for monitoring loop tasks
//
// Log the start and end of each time a task is executed.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X: ", counter)
		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s\n with value = %#v",
				counter, time.Since(timestamp), next, ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Manifest for starting a loop, which determines how the loop should behave.
type LoopManifest struct {
	Type domain.LoopType

	// Policy for the looping
	Policy recurring.Policy

	// Hooks around status changes
	Hooks hook.Lifecycle

	// Debounce of picking the same instance again
	Debounce time.Duration
}

// StartLoop runs the loop of manifest.Type until it breaks or ctx is done.
func StartLoop(ctx context.Context, logger *log.Logger, p plinst.Plinst, manifest LoopManifest) error {
	l := byLogger(logger, Copied(), WithPrefix(fmt.Sprintf("[%s loop] ", manifest.Type)))
	db := p.Database().Instances()

	switch manifest.Type {
	case domain.Promote:
		return startCursorLoop(
			ctx, l, promote.Seed(manifest.Debounce),
			promote.Task(db, p.Gate(), p.Dispatcher(), p.Reconciler(), manifest.Hooks, l),
			manifest.Policy,
		)
	case domain.CancelUnrunnable:
		return startCursorLoop(
			ctx, l, unrunnable.Seed(manifest.Debounce),
			unrunnable.Task(db, p.Gate(), p.Reconciler(), manifest.Hooks, l),
			manifest.Policy,
		)
	case domain.Dispatch:
		return startCursorLoop(
			ctx, l, dispatch.Seed(manifest.Debounce),
			dispatch.Task(db, p.Dispatcher(), p.Reconciler(), manifest.Hooks, l),
			manifest.Policy,
		)
	case domain.Poll:
		return startCursorLoop(
			ctx, l, poll.Seed(manifest.Debounce),
			poll.Task(db, p.Reconciler(), manifest.Hooks, l),
			manifest.Policy,
		)
	case domain.StuckRecovery:
		_, err := loop.Start(
			ctx, stuck.Seed(),
			monitor(l, stuck.Task(db, p.Reconciler(), manifest.Hooks, l).Applied(manifest.Policy)),
		)
		return err
	case domain.RemoteCleanup:
		_, err := loop.Start(
			ctx, cleanup.Seed(),
			monitor(l, cleanup.Task(p.Reconciler()).Applied(manifest.Policy)),
		)
		return err
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownLoopType, manifest.Type)
	}
}

func startCursorLoop(
	ctx context.Context,
	logger *log.Logger,
	seed domain.InstanceCursor,
	task recurring.Task[domain.InstanceCursor],
	policy recurring.Policy,
) error {
	_, err := loop.Start(
		ctx, seed,
		monitor(logger, task.Applied(policy)),
		loop.WithTimeout(cycleTimeout),
		loop.WithRecover(func(r any) error {
			return fmt.Errorf("%w: %v", errTaskPanicked, r)
		}),
	)
	return err
}

var errTaskPanicked = errors.New("task panicked")
