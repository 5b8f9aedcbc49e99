// Package backoff retries operations with capped exponential delays.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Config controls retry behavior
type Config struct {
	MaxAttempts  int           // Total attempts including the first
	InitialDelay time.Duration // Delay after the first failure
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor per attempt, 2 when unset

	// OnRetry is called before each sleep with the failed attempt number
	// (0-based), the delay about to be taken and the error
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the wait after the given 0-based failed attempt:
// InitialDelay * Multiplier^attempt, capped at MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped
// error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a permanent error, the context
// is done, or MaxAttempts is reached. The last error is returned as is.
func Retry[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts-1 {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
