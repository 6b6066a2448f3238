package retrieval

import (
	"context"
	"time"
)

// Clock measures inter-chunk spacing.
//
// Now must be monotonic: wall-clock adjustments must not shorten or extend
// the wait. SystemClock relies on the monotonic reading carried by
// time.Time values returned from time.Now.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real monotonic clock.
type SystemClock struct{}

// Now returns the current time with its monotonic reading.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d, honoring cancellation.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
