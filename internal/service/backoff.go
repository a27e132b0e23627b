package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// ExponentialBackoff returns min(base * 2^attempt, maxDelay). attempt < 0 is treated as 0.
func ExponentialBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	if maxDelay < base {
		maxDelay = base
	}

	d := base

	for range max(attempt, 0) {
		if d >= maxDelay/2 {
			return maxDelay
		}

		d *= 2
	}

	return min(d, maxDelay)
}

// Jitter returns a duration in [d/2, d) so callers retrying in lockstep spread out.
func Jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	return half + time.Duration(int64(randVal%uint64(half.Nanoseconds())))
}

// SpreadInterval returns interval scaled by a random factor in [1-fraction, 1+fraction].
// fraction is clamped to [0, 1).
func SpreadInterval(interval time.Duration, fraction float64) time.Duration {
	if interval <= 0 || fraction <= 0 {
		return interval
	}

	fraction = min(fraction, 0.99)

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return interval
	}

	// Uniform in [0, 1).
	u := float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
	factor := 1 - fraction + 2*fraction*u

	return time.Duration(float64(interval) * factor)
}

// SleepContext blocks for d or until ctx is cancelled; returns the wrapped ctx error if cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
