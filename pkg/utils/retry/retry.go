package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetry is returned by a function passed to Blocking to ask for one more try.
var ErrRetry = errors.New("retry")

// ErrExhausted is returned by a Backoff bounded with Limit when no attempts are left.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Backoff is a (blocking) function which returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff function that waits with exponential backoff.
//
// # Args
//
// - initialInterval: initial interval.
//
// - r: multiplier of interval.
//
// # Returns
//
// Backoff function.
// For N-th call, it waits for `initialInterval * r^N` or context to be done.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}

// Limit bounds b to `retries` waits.
//
// After that, the returned Backoff reports ErrExhausted without waiting.
func Limit(retries int, b Backoff) Backoff {
	left := retries
	return func(ctx context.Context) error {
		if left <= 0 {
			return ErrExhausted
		}
		left -= 1
		return b(ctx)
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// f is called once right away, and after each wait of b while f returns ErrRetry.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or by b when it stops retrying.
// When b stops, the error is joined with ErrRetry so callers can tell
// "gave up" from "failed".
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil {
			return last, nil
		}
		if !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, errors.Join(berr, err)
		}
	}
}
