// Package retry provides exponential backoff with full jitter for storage
// conflict retries and notification redelivery.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// Backoff is the delay before retry number attempt (0-based), capped at ceiling
// when ceiling is positive.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	delay := Exponential(base, attempt)
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return FullJitter(delay)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
