package resilience

import (
	"context"
	"time"
)

// Backoff computes retry delays that grow geometrically from Initial up to
// Max.
type Backoff struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay. Zero means no cap.
	Max time.Duration

	// Factor multiplies the delay after each attempt. Values below 1 are
	// treated as 2.
	Factor float64
}

// Delay returns the wait before retry number attempt, counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(b.Initial)
	for range attempt {
		d *= factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
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
