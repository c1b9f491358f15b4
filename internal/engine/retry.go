package engine

import (
	"context"
	"time"
)

// WaitForBackoff sleeps for the backoff or returns early if the context is
// cancelled. With disabled set it returns at once; the caller has already
// recorded the intended delay.
func WaitForBackoff(ctx context.Context, delay time.Duration, disabled bool) error {
	if disabled || delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
