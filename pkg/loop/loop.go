package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task.
type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue the loop after sleeping interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break the loop. Pass non-nil err to break with error.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is one iteration of a loop.
//
// It receives the value returned by the previous iteration (or the initial value),
// and returns the value for the next iteration with Next.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task repeatedly.
//
// Zero value of Next (Next{}) equals Continue(0), that is, "go next ASAP".
//
// Example: walk plugin instances one by one, and rest when nothing is left.
//
//	Start(ctx, domain.InstanceCursor{}, func(ctx context.Context, c domain.InstanceCursor) (domain.InstanceCursor, Next) {
//		next, moved, err := db.PickAndSetStatus(ctx, c, promote)
//		if err != nil {
//			return c, Break(err)
//		}
//		if !moved {
//			return next, Continue(5 * time.Second)
//		}
//		return next, Continue(0)
//	})
//
// # Args
//
// - ctx : When this context is done, the loop breaks with ctx.Err().
//
// - init : the task is called as task(ctx, init) at the first time.
//
// - task : receives (context, last value), then returns (new value, Continue() or Break()).
//
// - options: options applied per iteration.
//
// # Returns
//
// - T: the value task returns at last.
// This is returned whether or not the loop breaks with error.
//
// - error: error in Break(error), or ctx.Err().
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (v T, n Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			if lc.recover != nil {
				defer func() {
					if r := recover(); r != nil {
						v, n = value, Break(lc.recover(r))
					}
				}()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down comes first. the timer is checked later.
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
	recover  func(any) error
}

// LoopOption modifies how each iteration runs.
type LoopOption func(*loopConfig) *loopConfig

// WithTimeout sets timeout per iteration.
//
// The timeout is set on context.Context passed to the task.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx:     ctx,
			recover: lc.recover,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}

// WithRecover turns a panic in a task into Break(handler(recovered)).
//
// If handler returns nil, the loop breaks without error.
func WithRecover(handler func(recovered any) error) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		return &loopConfig{ctx: lc.ctx, deferred: lc.deferred, recover: handler}
	}
}
