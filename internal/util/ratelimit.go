package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum spacing between the starts of successive calls.
// It is shared by every worker that talks to the same provider, so the
// aggregate call rate stays bounded regardless of concurrency.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer admitting one call per spacing. A non-positive
// spacing disables pacing.
func NewPacer(spacing time.Duration) *Pacer {
	p := &Pacer{}
	if spacing > 0 {
		p.limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}
	return p
}

// Wait blocks until the next call may start or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
