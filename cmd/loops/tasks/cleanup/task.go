package cleanup

import (
	"context"

	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/cmd/loops/tasks/internal/sweep"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
)

// initial value for task
func Seed() struct{} {
	return struct{}{}
}

// Task for remote_cleanup loop.
//
// It retries deleting remote jobs of finished instances with error code remoteDeleteFailed.
// Deletions failing again are left for the next cycle.
func Task(r *reconcile.Reconciler) recurring.Task[struct{}] {
	return func(ctx context.Context, value struct{}) (struct{}, bool, error) {
		deleted, err := r.CleanupRemote(ctx)
		if sweep.Expected(err) {
			err = nil
		}
		return value, deleted != 0, err
	}
}
