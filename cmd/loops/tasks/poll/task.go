package poll

import (
	"context"
	"log"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
)

// initial value for task
func Seed(debounce time.Duration) domain.InstanceCursor {
	return domain.InstanceCursor{
		Status:   domain.InProgressStatuses(),
		Debounce: debounce,
	}
}

// Task for poll loop.
//
// Instances in progress are advanced by status of their jobs,
// and remote jobs of finished instances are deleted.
func Task(
	db kdb.Interface,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
) recurring.Task[domain.InstanceCursor] {
	return func(ctx context.Context, value domain.InstanceCursor) (domain.InstanceCursor, bool, error) {
		onError := func(err error) {
			logger.Printf("job status is not available. retried later: %s", err)
		}
		nextCursor, statusChanged, err := db.PickAndSetStatus(
			ctx, value,
			r.Guard(ctx, domain.Poll, hook.Around(ctx, h, logger, sweep.Observed(
				domain.Poll, time.Now, r.PollTask(ctx, onError),
			))),
		)
		if statusChanged {
			if ferr := r.Finalize(ctx, nextCursor.Head); ferr != nil {
				logger.Printf("instance %d: failed to finalize: %s", nextCursor.Head, ferr)
			}
			hook.Notify(ctx, h, db, logger, nextCursor.Head)
		}
		return sweep.Outcome(value, nextCursor, err)
	}
}
