package promote

import (
	"context"
	"log"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/metrics"
)

// initial value for task
func Seed(debounce time.Duration) domain.InstanceCursor {
	return domain.InstanceCursor{
		Status:   []domain.InstanceStatus{domain.Created, domain.Waiting},
		Debounce: debounce,
	}
}

// Task for promote loop.
//
// Instances left in created are moved to waiting.
// Runnable waiting instances are moved to scheduled, and their jobs are submitted at once.
// Submission failures leave them scheduled for the dispatch loop.
func Task(
	db kdb.Interface,
	g *gate.Gate,
	d *dispatch.Dispatcher,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
) recurring.Task[domain.InstanceCursor] {
	return func(ctx context.Context, value domain.InstanceCursor) (domain.InstanceCursor, bool, error) {
		promote := g.Promote(ctx)
		nextCursor, statusChanged, err := db.PickAndSetStatus(
			ctx, value,
			r.Guard(ctx, domain.Promote, hook.Around(ctx, h, logger, sweep.Observed(
				domain.Promote, time.Now,
				func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
					if pi.Status == domain.Created {
						return domain.Become(domain.Waiting), nil
					}
					return promote(pi)
				},
			))),
		)

		if statusChanged {
			hook.Notify(ctx, h, db, logger, nextCursor.Head)
			if found, gerr := db.Get(ctx, []domain.InstanceID{nextCursor.Head}); gerr == nil {
				if pi, ok := found[nextCursor.Head]; ok && pi.Status == domain.Scheduled {
					metrics.Promotions.Inc()
					submit(ctx, db, d, r, h, logger, pi.Id)
				}
			}
		}

		return sweep.Outcome(value, nextCursor, err)
	}
}

// submit dispatches the job of a promoted instance.
func submit(
	ctx context.Context,
	db kdb.Interface,
	d *dispatch.Dispatcher,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
	id domain.InstanceID,
) {
	onError := func(err error) {
		logger.Printf("instance %d: job is not submitted. retried later: %s", id, err)
	}
	started, err := db.LockAndSetStatus(
		ctx, id,
		r.Guard(ctx, domain.Dispatch, hook.Around(ctx, h, logger, d.Submit(ctx, onError))),
	)
	if err != nil {
		logger.Printf("instance %d: failed to dispatch: %s", id, err)
		return
	}
	if started {
		hook.Notify(ctx, h, db, logger, id)
	}
}
