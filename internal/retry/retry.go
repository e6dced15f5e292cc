// Package retry wraps transient store and bus operations with bounded
// backoff. Validation and conflict errors should not pass through here;
// retrying them only delays the user-facing message.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	Attempts int
	Delay    time.Duration // base delay, grows linearly per attempt
	Timeout  time.Duration // per-attempt timeout
}

func DefaultConfig() Config {
	return Config{
		Attempts: 3,
		Delay:    time.Second,
		Timeout:  10 * time.Second,
	}
}

// Do runs fn until it succeeds or the attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay * time.Duration(attempt)):
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.Attempts, lastErr)
}
