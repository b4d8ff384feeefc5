package gather

import (
	"context"
	"errors"
	"sync/atomic"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/util"
)

// Compile-time interface checks.
var (
	_ cache.Fetcher        = (*RetryingClient)(nil)
	_ cache.MetadataLookup = (*RetryingClient)(nil)
)

// RetryingClient wraps a Provider with a backoff policy and a shared pacer.
// Every attempt that reaches the provider first waits on the pacer, so the
// aggregate request rate holds no matter how many workers share the client.
type RetryingClient struct {
	provider Provider
	assets   AssetProvider
	backoff  util.Backoff
	pacer    *util.Pacer
	calls    atomic.Int64
}

// NewRetryingClient creates a RetryingClient. A nil Retryable in b is
// replaced by domain.IsTransient; pacer may be nil.
func NewRetryingClient(p Provider, b util.Backoff, pacer *util.Pacer) *RetryingClient {
	if b.Retryable == nil {
		b.Retryable = domain.IsTransient
	}
	c := &RetryingClient{provider: p, backoff: b, pacer: pacer}
	if ap, ok := p.(AssetProvider); ok {
		c.assets = ap
	}
	return c
}

// Fetch requests bars for ticker within r, retrying transient failures.
// Exhaustion yields *domain.RetriesExhaustedError with the last cause.
func (c *RetryingClient) Fetch(ctx context.Context, ticker string, r domain.DateRange) ([]domain.RawBar, error) {
	var bars []domain.RawBar
	err := c.backoff.Do(ctx, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		c.calls.Add(1)
		b, err := c.provider.FetchBars(ctx, ticker, r)
		if err != nil {
			return err
		}
		bars = b
		return nil
	})
	return bars, err
}

// LookupSecurity resolves display metadata under the same retry policy.
func (c *RetryingClient) LookupSecurity(ctx context.Context, ticker string) (cache.SecurityInfo, error) {
	if c.assets == nil {
		return cache.SecurityInfo{}, errors.New("provider has no asset lookup")
	}
	var info cache.SecurityInfo
	err := c.backoff.Do(ctx, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		c.calls.Add(1)
		i, err := c.assets.Asset(ctx, ticker)
		if err != nil {
			return err
		}
		info = i
		return nil
	})
	return info, err
}

// Calls returns how many requests reached the provider.
func (c *RetryingClient) Calls() int64 {
	return c.calls.Load()
}
