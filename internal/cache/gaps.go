// Package cache implements cache-first price retrieval: it works out which
// parts of a requested window are missing from the price store, fetches only
// those, and records what the provider returned.
package cache

import (
	"context"
	"sort"

	"stocktest/internal/domain"
	"stocktest/internal/store"
)

// MissingRanges returns the maximal runs of days in window that have neither
// a cached bar nor a covering no-data range. The result is sorted ascending
// and its ranges never overlap or touch.
func MissingRanges(window domain.DateRange, barDays []domain.Day, noData []domain.DateRange) []domain.DateRange {
	if window.End < window.Start {
		return nil
	}

	satisfied := make([]domain.DateRange, 0, len(barDays)+len(noData))
	for _, d := range barDays {
		if window.Contains(d) {
			satisfied = append(satisfied, domain.DateRange{Start: d, End: d})
		}
	}
	for _, r := range noData {
		if c, ok := r.Clamp(window); ok {
			satisfied = append(satisfied, c)
		}
	}
	sort.Slice(satisfied, func(i, j int) bool {
		return satisfied[i].Start < satisfied[j].Start
	})

	var gaps []domain.DateRange
	cursor := window.Start
	for _, s := range satisfied {
		if s.Start > cursor {
			gaps = append(gaps, domain.DateRange{Start: cursor, End: s.Start - 1})
		}
		if s.End >= cursor {
			cursor = s.End + 1
		}
		if cursor > window.End {
			return gaps
		}
	}
	if cursor <= window.End {
		gaps = append(gaps, domain.DateRange{Start: cursor, End: window.End})
	}
	return gaps
}

// Resolution is the state of one security's window in the store.
type Resolution struct {
	Window  domain.DateRange
	Missing []domain.DateRange
	BarDays []domain.Day
	NoData  []domain.DateRange
}

// Satisfied reports whether nothing in the window needs fetching.
func (r Resolution) Satisfied() bool {
	return len(r.Missing) == 0
}

// ConfirmedEmpty reports whether the whole window is covered by no-data
// records, as opposed to being empty because nothing was fetched yet.
func (r Resolution) ConfirmedEmpty() bool {
	return len(r.Missing) == 0 && len(r.BarDays) == 0
}

// Resolver computes gaps against a PriceStore.
type Resolver struct {
	store store.PriceStore
}

// NewResolver creates a Resolver reading from s.
func NewResolver(s store.PriceStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve reports the cached days, no-data ranges and gaps of ticker within
// window. The coverage row is only a hint: when it exists the stored bar days
// are always consulted, because coverage need not be contiguous.
func (r *Resolver) Resolve(ctx context.Context, ticker string, window domain.DateRange) (Resolution, error) {
	res := Resolution{Window: window}

	cov, ok, err := r.store.Coverage(ctx, ticker)
	if err != nil {
		return Resolution{}, err
	}
	if ok && window.Overlaps(domain.DateRange{Start: cov.EarliestDay, End: cov.LatestDay}) {
		res.BarDays, err = r.store.BarDays(ctx, ticker, window)
		if err != nil {
			return Resolution{}, err
		}
	}

	nd, err := r.store.NoDataRanges(ctx, ticker, window)
	if err != nil {
		return Resolution{}, err
	}
	for _, n := range nd {
		if c, ok := n.Range.Clamp(window); ok {
			res.NoData = append(res.NoData, c)
		}
	}

	res.Missing = MissingRanges(window, res.BarDays, res.NoData)
	return res, nil
}
