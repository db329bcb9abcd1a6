package stuck

import (
	"context"
	"log"

	"github.com/fnndsc/plinst/cmd/loops/hook"
	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
)

// initial value for task
func Seed() struct{} {
	return struct{}{}
}

// Task for stuck_recovery loop.
//
// Instances staying in progress longer than the threshold are cancelled with error code stuckInLock.
// Hooks are notified after the fact. Recovery is not vetoed by hooks.
func Task(
	db kdb.Interface,
	r *reconcile.Reconciler,
	h hook.Lifecycle,
	logger *log.Logger,
) recurring.Task[struct{}] {
	return func(ctx context.Context, value struct{}) (struct{}, bool, error) {
		recovered, err := r.RecoverStuck(ctx)
		for _, id := range recovered {
			hook.Notify(ctx, h, db, logger, id)
		}
		if sweep.Expected(err) {
			err = nil
		}
		return value, len(recovered) != 0, err
	}
}
