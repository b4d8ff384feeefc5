// Package store defines the durable price cache: securities, daily bars,
// coverage metadata and confirmed no-data ranges.
package store

import (
	"context"
	"time"

	"stocktest/internal/domain"
)

// SecurityStore persists security identities and their metadata.
type SecurityStore interface {
	// EnsureSecurity returns the security for ticker, creating it on first
	// reference. created reports whether this call inserted it.
	EnsureSecurity(ctx context.Context, ticker string) (sec domain.Security, created bool, err error)

	// GetSecurity looks up a security. ok is false if it was never created.
	GetSecurity(ctx context.Context, ticker string) (sec domain.Security, ok bool, err error)

	// UpdateSecurityInfo sets the denormalised display name and asset type.
	UpdateSecurityInfo(ctx context.Context, ticker, name, assetType string) error

	// ListSecurities returns every known security ordered by ticker.
	ListSecurities(ctx context.Context) ([]domain.Security, error)
}

// PriceStore reads cached bars and records the outcome of provider fetches.
type PriceStore interface {
	// ReadBars returns cached bars for ticker within r, ascending by day.
	ReadBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.PriceBar, error)

	// BarDays returns the days within r that have a cached bar, ascending.
	BarDays(ctx context.Context, ticker string, r domain.DateRange) ([]domain.Day, error)

	// NoDataRanges returns confirmed-empty ranges overlapping r.
	NoDataRanges(ctx context.Context, ticker string, r domain.DateRange) ([]domain.NoDataRange, error)

	// Coverage returns the coverage hint for ticker. ok is false when
	// nothing was ever merged for it.
	Coverage(ctx context.Context, ticker string) (cov domain.CacheCoverage, ok bool, err error)

	// ApplyFetch atomically merges one fetch outcome: bars are inserted if
	// absent (never overwritten), no-data ranges are upserted, and coverage
	// is recomputed when bars were supplied.
	ApplyFetch(ctx context.Context, w FetchWrite) (inserted int, err error)
}

// Store is the full cache surface used by retrieval.
type Store interface {
	SecurityStore
	PriceStore
}

// FetchWrite is the result of fetching one gap for one security.
type FetchWrite struct {
	Ticker    string
	Bars      []domain.PriceBar
	NoData    []domain.DateRange
	FetchedAt time.Time
}

// BarStore is a bulk bar archive keyed by symbol, used for Parquet mirrors
// of the cache.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with what is already there.
	WriteBars(ctx context.Context, bars []domain.PriceBar) error

	// ReadBars returns bars for ticker within r, ascending by day.
	ReadBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.PriceBar, error)

	// ListSymbols returns all symbols present in the archive.
	ListSymbols(ctx context.Context) ([]string, error)
}
