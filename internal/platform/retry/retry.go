// Package retry runs an operation a bounded number of times with a fixed delay
// between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds or MaxAttempts is spent, sleeping Delay between
// attempts. The error of the last attempt is returned only after every attempt
// has failed. A cancelled context stops the loop during the sleep.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry interrupted after %d attempt(s): %w", attempt, ctx.Err())
			}
		} else if ctx.Err() != nil {
			return zero, fmt.Errorf("retry interrupted after %d attempt(s): %w", attempt, ctx.Err())
		}
	}

	return zero, fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}
