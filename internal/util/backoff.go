package util

import (
	"context"
	"math/rand"
	"time"
)

// Jitter returns d shifted by a random amount within ±frac of d.
// A frac of 0.2 yields a value in [0.8d, 1.2d].
func Jitter(d time.Duration, frac float64) time.Duration {
	if d <= 0 || frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac * float64(d)
	return d + time.Duration(delta)
}

// RetryWithBackoff invokes fn up to attempts times, sleeping base, 2*base,
// 4*base... between failures. retryable decides whether an error is worth
// another attempt; a nil retryable retries every error. The last error is
// returned when all attempts fail.
func RetryWithBackoff(ctx context.Context, attempts int, base time.Duration, fn func() error, retryable func(error) bool) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
