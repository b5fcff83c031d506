// Package retry provides a bounded retry loop with exponential backoff.
//
// The policy is expressed as a total attempt count and a computed delay per
// attempt. Waiting between attempts parks only the calling goroutine and is
// interrupted by context cancellation.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxAttempts is the total number of calls, including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth of the wait.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each wait (default: 2.0).
	BackoffFactor float64

	// Jitter adds randomness to the wait: backoff + rand(0, backoff), still capped at MaxBackoff.
	Jitter bool
}

// DefaultConfig returns the price lookup policy: two attempts, waiting 1s
// between them, doubling up to 4s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     4 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         false,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Backoff returns the wait before the given attempt (1-indexed) without jitter.
// The first attempt never waits.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	c = c.withDefaults()

	backoff := float64(c.InitialBackoff)
	for i := 2; i < attempt; i++ {
		backoff *= c.BackoffFactor
		if backoff >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// IsRetryableFunc determines if an error should trigger another attempt.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each wait (optional, for logging/metrics).
// attempt is the 1-indexed attempt that is about to run.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do calls fn until it succeeds, returns a non-retryable error, or
// cfg.MaxAttempts calls have been made. fn receives the 1-indexed attempt.
//
// Example:
//
//	price, err := retry.Do(ctx, retry.DefaultConfig(), isTransient, nil, func(ctx context.Context, attempt int) (float64, error) {
//	    return oracle.Fetch(ctx)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	cfg = cfg.withDefaults()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := cfg.Backoff(attempt)
			if cfg.Jitter {
				backoff += time.Duration(rand.Int64N(int64(backoff)))
				if backoff > cfg.MaxBackoff {
					backoff = cfg.MaxBackoff
				}
			}

			if onRetry != nil {
				onRetry(attempt, lastErr, backoff)
			}

			if err := Wait(ctx, backoff); err != nil {
				return zero, fmt.Errorf("context cancelled while retrying: %w", err)
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Wait blocks the calling goroutine for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
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
