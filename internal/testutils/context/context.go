// Package context bounds test contexts by the test deadline.
package context

import (
	"context"
	"testing"
	"time"
)

// margin left after the context is done, for cleanups.
const margin = time.Second

// WithTest derives ctx cancelled a little before the deadline of t, if t has one.
func WithTest(ctx context.Context, t *testing.T) (context.Context, context.CancelFunc) {
	deadline, ok := t.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-margin))
}
