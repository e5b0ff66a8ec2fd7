package translate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackendFailure wraps the last error of a request that failed on
// every attempt.
var ErrBackendFailure = errors.New("backend failure")

// Backoff returns how long to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// ConstantBackoff waits d after every failed attempt.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff waits base, 2*base, 4*base, ... capped at ceiling.
func ExponentialBackoff(base, ceiling time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < ceiling; i++ {
			d *= 2
		}
		if d > ceiling {
			return ceiling
		}
		return d
	}
}

// NoBackoff retries immediately.
func NoBackoff(int) time.Duration { return 0 }

// Retry calls fn up to attempts times, sleeping backoff(attempt) between
// failures. A *RateLimitError stretches the sleep to the delay the server
// asked for. onRetry, if set, sees every failed attempt.
//
// When every attempt fails the error wraps ErrBackendFailure and the last
// attempt's error. Context cancellation returns ctx.Err() immediately.
func Retry[T any](ctx context.Context, attempts int, backoff Backoff, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error)) (T, error) {
	var zero T
	if attempts <= 0 {
		attempts = 1
	}
	if backoff == nil {
		backoff = NoBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if attempt == attempts {
			break
		}

		wait := backoff(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrBackendFailure, attempts, lastErr)
}
