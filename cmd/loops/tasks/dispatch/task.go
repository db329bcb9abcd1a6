package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	kdispatch "github.com/fnndsc/plinst/pkg/domain/instance/dispatch"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
)

// initial value for task
func Seed(debounce time.Duration) domain.InstanceCursor {
	return domain.InstanceCursor{
		Status:   []domain.InstanceStatus{domain.Scheduled},
		Debounce: debounce,
	}
}

// Task for dispatch loop.
//
// Jobs of scheduled instances are submitted, and the instances get started.
// Transport errors are logged, and the instances stay scheduled until the next pick.
func Task(
	db kdb.Interface,
	d *kdispatch.Dispatcher,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
) recurring.Task[domain.InstanceCursor] {
	return func(ctx context.Context, value domain.InstanceCursor) (domain.InstanceCursor, bool, error) {
		onError := func(err error) {
			logger.Printf("job is not submitted. retried later: %s", err)
		}
		nextCursor, statusChanged, err := db.PickAndSetStatus(
			ctx, value,
			r.Guard(ctx, domain.Dispatch, hook.Around(ctx, h, logger, sweep.Observed(
				domain.Dispatch, time.Now, d.Submit(ctx, onError),
			))),
		)
		if statusChanged {
			hook.Notify(ctx, h, db, logger, nextCursor.Head)
		}
		return sweep.Outcome(value, nextCursor, err)
	}
}
