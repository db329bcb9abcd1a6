package unrunnable

import (
	"context"
	"log"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/gate"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/metrics"
)

// initial value for task
func Seed(debounce time.Duration) domain.InstanceCursor {
	return domain.InstanceCursor{
		Status:   []domain.InstanceStatus{domain.Waiting},
		Debounce: debounce,
	}
}

// Task for cancel_unrunnable loop.
//
// Waiting instances whose upstreams have failed or been cancelled are cancelled.
func Task(
	db kdb.Interface,
	g *gate.Gate,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
) recurring.Task[domain.InstanceCursor] {
	return func(ctx context.Context, value domain.InstanceCursor) (domain.InstanceCursor, bool, error) {
		nextCursor, statusChanged, err := db.PickAndSetStatus(
			ctx, value,
			r.Guard(ctx, domain.CancelUnrunnable, hook.Around(ctx, h, logger, sweep.Observed(
				domain.CancelUnrunnable, time.Now, g.CancelUnrunnable(ctx),
			))),
		)
		if statusChanged {
			metrics.UnrunnableCancels.Inc()
			logger.Printf("instance %d: cancelled since it never gets runnable", nextCursor.Head)
			hook.Notify(ctx, h, db, logger, nextCursor.Head)
		}
		return sweep.Outcome(value, nextCursor, err)
	}
}
