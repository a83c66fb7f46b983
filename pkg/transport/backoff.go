package transport

import (
	"context"
	"time"
)

// Backoff sleeps before reconnect attempt n (1-based): base*n capped at ceiling.
// It returns early with ctx.Err() when ctx is cancelled.
func Backoff(ctx context.Context, attempt int, base, ceiling time.Duration) error {
	timer := time.NewTimer(BackoffDelay(attempt, base, ceiling))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func BackoffDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := base * time.Duration(attempt)
	if ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	return wait
}
