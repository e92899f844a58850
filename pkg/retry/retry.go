// Package retry retries an operation with a pluggable backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff returns the wait after the given failed attempt (1-indexed).
type Backoff func(attempt int) time.Duration

// Quadratic waits base × attempt².
func Quadratic(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt*attempt)
	}
}

// Fibonacci waits base × fib(attempt) with fib(1)=1, fib(2)=2, fib(3)=3, fib(4)=5.
func Fibonacci(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		a, b := 1, 1
		for i := 0; i < attempt; i++ {
			a, b = b, a+b
		}
		return base * time.Duration(a)
	}
}

// Capped limits b to max. Overflowed (non-positive) delays also become max.
func Capped(b Backoff, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if d := b(attempt); d > 0 && d < max {
			return d
		}
		return max
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it immediately;
// errors.Is and errors.As still see through the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total number of calls including the first attempt.
	MaxAttempts int
	// BaseDelay feeds the default Quadratic backoff when Backoff is nil.
	BaseDelay time.Duration
	Backoff   Backoff
	// OnRetry is called after a failed attempt and before the next delay.
	// attempt is 1-indexed (1 = first attempt just failed).
	OnRetry func(attempt int, err error)
}

// Do calls fn up to cfg.MaxAttempts times, waiting cfg.Backoff(attempt)
// between failures. It returns nil on first success or the last error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = Quadratic(cfg.BaseDelay)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}
	return lastErr
}
