// Package retry re-runs fallible operations with a linearly growing delay.
package retry

import (
	"context"
	"time"
)

// Policy configures Do. Attempts below 1 are treated as 1.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each sleep with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// Do runs op until it succeeds or the policy is exhausted. Between attempts it
// waits BaseDelay*attempt. The last error is returned unchanged so callers can
// inspect its kind.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := Sleep(ctx, p.BaseDelay*time.Duration(attempt)); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
