// Package gather fills the price cache from an external market-data
// provider: a retrying, paced client around the provider and a bounded
// orchestrator that runs cache-first retrieval for many securities at once.
package gather

import (
	"context"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
)

// Gatherer is the interface for long-running data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns when the pass is done or
	// ctx is cancelled.
	Run(ctx context.Context) error
}

// Provider is a single-call market-data source. One call is one request;
// it must not retry internally. Failures should be *domain.ProviderError so
// transient ones can be retried.
type Provider interface {
	FetchBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.RawBar, error)
}

// AssetProvider resolves security metadata.
type AssetProvider interface {
	Asset(ctx context.Context, ticker string) (cache.SecurityInfo, error)
}
