package recurring

import (
	"context"

	"github.com/fnndsc/plinst/pkg/loop"
)

// Task is a cycle of a sweep.
//
// Return:
//
// - T : same as return value T of loop.Task[T]
//
// - bool : true when this task did something in this cycle, and more backlog can be.
// otherwise false.
//
// - error : unexpected error. Expected conditions are saved as status or error code.
type Task[T any] func(context.Context, T) (T, bool, error)

// Applied makes a loop.Task which runs rt and decides the next with p.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		next, ok, err := rt(ctx, t)
		return next, p.Next(ok, err)
	}
}
