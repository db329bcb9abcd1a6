// Package sweep holds pieces shared by sweep tasks.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/fnndsc/plinst/pkg/domain"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/metrics"
)

// Observed wraps task to record how long picked instances have been in their status.
func Observed(loop domain.LoopType, now func() time.Time, task kdb.Task) kdb.Task {
	gauge := metrics.PickLatency.WithLabelValues(loop.String())
	return func(pi domain.PluginInstance) (domain.StatusUpdate, error) {
		gauge.Set(now().Sub(pi.StatusChangedAt).Seconds())
		return task(pi)
	}
}

// Outcome converts a result of PickAndSetStatus into a result of recurring.Task.
//
// A moved cursor means there can be more to do.
// Context cancelled/deadline exceeded are okay. It will be retried.
func Outcome(value, next domain.InstanceCursor, err error) (domain.InstanceCursor, bool, error) {
	cursorMoved := !value.Equal(next)
	if Expected(err) {
		return next, cursorMoved, nil
	}
	return next, cursorMoved, err
}

// Expected tells err is nil or it is retried in the next cycle.
func Expected(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
