package util

import (
	"context"
	"math/rand/v2"
	"time"

	"stocktest/internal/domain"
)

// Backoff is a retry policy: up to MaxAttempts calls, sleeping
// min(BaseDelay*2^(k-1), MaxDelay) plus jitter in [0, delay) before
// attempt k+1.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether a failed attempt may be retried. Nil
	// retries every error.
	Retryable func(error) bool

	// Jitter returns a value in [0, d). Nil uses math/rand.
	Jitter func(d time.Duration) time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff mirrors the provider defaults: 3 attempts, 1s base, 60s cap.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Delay returns the capped exponential delay before retry number attempt
// (1-based), without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.BaseDelay <= 0 {
		return 0
	}
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. Exhaustion yields *domain.RetriesExhaustedError
// carrying the last cause. Non-retryable errors are returned unchanged.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt == attempts {
			break
		}
		delay := b.Delay(attempt)
		delay += b.jitter(delay)
		if serr := b.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	return &domain.RetriesExhaustedError{Attempts: attempts, Cause: err}
}

func (b Backoff) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if b.Jitter != nil {
		return b.Jitter(d)
	}
	return time.Duration(rand.Int64N(int64(d)))
}

func (b Backoff) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
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
