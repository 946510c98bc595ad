package db

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls retries of transient failures.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean one attempt.
	MaxAttempts int
	Delay       time.Duration
	// RetryOn decides whether an error is transient. nil retries deadlocks
	// (including SQLite's busy and locked), timeouts and lost connections.
	RetryOn func(error) bool
}

// DefaultRetry is what the repositories and the check command use for
// row-locking writes.
var DefaultRetry = RetryConfig{MaxAttempts: 3, Delay: 50 * time.Millisecond}

func transient(err error) bool {
	return IsDeadlock(err) || IsTimeout(err) || IsConnectionFailed(err)
}

// WithRetry calls fn until it succeeds, fails with a non-transient error or
// runs out of attempts. It stops early when ctx is done.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = transient
	}
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = fn(); err == nil || !retryOn(err) {
			return err
		}
	}
	return fmt.Errorf("schemakit/db: gave up after %d attempts: %w", attempts, err)
}
