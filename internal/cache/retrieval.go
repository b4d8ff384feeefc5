package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stocktest/internal/domain"
	"stocktest/internal/store"
	"stocktest/internal/util"
)

// Fetcher performs one logical provider request for a ticker and range.
// Implementations retry transient failures themselves and report
// exhaustion as *domain.RetriesExhaustedError.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, r domain.DateRange) ([]domain.RawBar, error)
}

// SecurityInfo is provider metadata for a newly seen security.
type SecurityInfo struct {
	Name      string
	AssetType string
}

// MetadataLookup resolves display metadata for a ticker.
type MetadataLookup interface {
	LookupSecurity(ctx context.Context, ticker string) (SecurityInfo, error)
}

// Outcome classifies a retrieval result.
type Outcome int

const (
	// OutcomeComplete means every day in the window is cached or confirmed
	// empty, and at least one bar exists.
	OutcomeComplete Outcome = iota
	// OutcomePartial means some bars were returned but at least one gap
	// fetch failed.
	OutcomePartial
	// OutcomeNoData means the provider confirmed there are no bars.
	OutcomeNoData
	// OutcomeFetchFailed means nothing is available because fetches failed.
	// Retrying later may succeed.
	OutcomeFetchFailed
	// OutcomePending means nothing is available and the unfetched part of
	// the window lies after the settled day.
	OutcomePending
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomePartial:
		return "partial"
	case OutcomeNoData:
		return "no_data"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomePending:
		return "pending"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RangeFailure records a gap that could not be fetched.
type RangeFailure struct {
	Range domain.DateRange
	Err   error
}

// Result is the outcome of one GetPrices call.
type Result struct {
	Ticker        string
	Window        domain.DateRange
	Bars          []domain.PriceBar
	ProviderCalls int
	Inserted      int
	Failures      []RangeFailure
	// Unsettled lists gaps that start after the settled day. They are
	// neither fetched nor recorded as empty.
	Unsettled []domain.DateRange
	Outcome   Outcome
}

// Err summarises a result that carries no usable bars: ErrNoDataConfirmed
// for a confirmed-empty window, ErrNotSettled for a pending one, the joined
// range failures for a failed fetch, nil otherwise.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeNoData:
		return fmt.Errorf("%s %s: %w", r.Ticker, r.Window, domain.ErrNoDataConfirmed)
	case OutcomePending:
		return fmt.Errorf("%s %s: %w", r.Ticker, r.Window, domain.ErrNotSettled)
	case OutcomeFetchFailed:
		errs := make([]error, 0, len(r.Failures))
		for _, f := range r.Failures {
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Ticker, f.Range, f.Err))
		}
		return errors.Join(errs...)
	default:
		return nil
	}
}

// splitUnsettled moves the part of gap after settled to r.Unsettled and
// returns the rest, if any.
func (r *Result) splitUnsettled(gap domain.DateRange, settled domain.Day) (domain.DateRange, bool) {
	if gap.End <= settled {
		return gap, true
	}
	if gap.Start > settled {
		r.Unsettled = append(r.Unsettled, gap)
		return gap, false
	}
	r.Unsettled = append(r.Unsettled, domain.DateRange{Start: settled + 1, End: gap.End})
	return domain.DateRange{Start: gap.Start, End: settled}, true
}

func (r *Result) classify() {
	switch {
	case len(r.Bars) > 0 && len(r.Failures) == 0:
		r.Outcome = OutcomeComplete
	case len(r.Bars) > 0:
		r.Outcome = OutcomePartial
	case len(r.Failures) > 0:
		r.Outcome = OutcomeFetchFailed
	case len(r.Unsettled) > 0:
		r.Outcome = OutcomePending
	default:
		r.Outcome = OutcomeNoData
	}
}

// Retriever serves price windows from the store, filling gaps from the
// provider.
type Retriever struct {
	store    store.Store
	resolver *Resolver
	fetcher  Fetcher
	meta     MetadataLookup
	now      util.Clock
	log      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMetadata enables name/asset-type lookup for new securities.
func WithMetadata(m MetadataLookup) Option {
	return func(r *Retriever) { r.meta = m }
}

// WithClock overrides the clock used for the settled-day cutoff.
func WithClock(c util.Clock) Option {
	return func(r *Retriever) { r.now = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.log = l }
}

// NewRetriever creates a Retriever over s that fetches gaps through f.
func NewRetriever(s store.Store, f Fetcher, opts ...Option) *Retriever {
	r := &Retriever{
		store:    s,
		resolver: NewResolver(s),
		fetcher:  f,
		now:      time.Now,
		log:      slog.Default().With("component", "cache"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the underlying price store.
func (r *Retriever) Store() store.Store { return r.store }

// Cached returns a read-only view of r that never calls the provider.
func (r *Retriever) Cached() CachedView { return CachedView{r: r} }

// CachedView serves price windows from the store alone. Settled gaps are
// reported as ErrNotCached failures and later ones as unsettled.
type CachedView struct {
	r *Retriever
}

// GetPrices returns the stored bars of ticker within window.
func (v CachedView) GetPrices(ctx context.Context, ticker string, window domain.DateRange) (Result, error) {
	ticker = domain.NormalizeTicker(ticker)
	res := Result{Ticker: ticker, Window: window}
	if err := validate(ticker, window); err != nil {
		return res, err
	}

	gaps, err := v.r.resolver.Resolve(ctx, ticker, window)
	if err != nil {
		return res, err
	}
	if gaps.ConfirmedEmpty() {
		res.Outcome = OutcomeNoData
		return res, nil
	}

	settled := util.SettledDay(v.r.now())
	for _, gap := range gaps.Missing {
		gap, ok := res.splitUnsettled(gap, settled)
		if !ok {
			continue
		}
		res.Failures = append(res.Failures, RangeFailure{Range: gap, Err: domain.ErrNotCached})
	}

	res.Bars, err = v.r.store.ReadBars(ctx, ticker, window)
	if err != nil {
		return res, err
	}
	res.classify()
	return res, nil
}

func validate(ticker string, window domain.DateRange) error {
	if ticker == "" {
		return errors.New("empty ticker")
	}
	if window.End < window.Start {
		return fmt.Errorf("invalid window %s", window)
	}
	return nil
}

// GetPrices returns the bars of ticker within window, fetching only the
// sub-ranges that are neither cached nor confirmed empty. Gap fetch failures
// are reported in Result.Failures; the returned error is non-nil only for
// storage failures, invalid input, or cancellation.
func (r *Retriever) GetPrices(ctx context.Context, ticker string, window domain.DateRange) (Result, error) {
	ticker = domain.NormalizeTicker(ticker)
	res := Result{Ticker: ticker, Window: window}
	if err := validate(ticker, window); err != nil {
		return res, err
	}

	if err := r.ensureSecurity(ctx, ticker); err != nil {
		return res, err
	}

	gaps, err := r.resolver.Resolve(ctx, ticker, window)
	if err != nil {
		return res, err
	}
	if gaps.ConfirmedEmpty() {
		res.Outcome = OutcomeNoData
		return res, nil
	}

	if !gaps.Satisfied() {
		settled := util.SettledDay(r.now())
		for _, gap := range gaps.Missing {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			gap, ok := res.splitUnsettled(gap, settled)
			if !ok {
				continue
			}
			inserted, err := r.fillGap(ctx, ticker, gap, settled)
			res.ProviderCalls++
			if err != nil {
				if errors.Is(err, domain.ErrStorage) {
					return res, err
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				res.Failures = append(res.Failures, RangeFailure{Range: gap, Err: err})
				r.log.Warn("gap fetch failed", "ticker", ticker, "range", gap.String(), "error", err)
				continue
			}
			res.Inserted += inserted
		}
	}

	res.Bars, err = r.store.ReadBars(ctx, ticker, window)
	if err != nil {
		return res, err
	}

	res.classify()
	return res, nil
}

// fillGap fetches one gap and merges the result. Bars after the settled day
// are dropped because they may still change, and only settled days are ever
// recorded as empty.
func (r *Retriever) fillGap(ctx context.Context, ticker string, gap domain.DateRange, settled domain.Day) (int, error) {
	raw, err := r.fetcher.Fetch(ctx, ticker, gap)
	if err != nil {
		return 0, err
	}

	seen := make(map[domain.Day]struct{}, len(raw))
	bars := make([]domain.PriceBar, 0, len(raw))
	days := make([]domain.Day, 0, len(raw))
	for _, rb := range raw {
		b := rb.ToPriceBar(ticker)
		if !gap.Contains(b.Day) || b.Day > settled {
			continue
		}
		if _, dup := seen[b.Day]; dup {
			continue
		}
		seen[b.Day] = struct{}{}
		bars = append(bars, b)
		days = append(days, b.Day)
	}

	w := store.FetchWrite{Ticker: ticker, Bars: bars, FetchedAt: r.now()}
	if settledGap, ok := gap.Clamp(domain.DateRange{Start: gap.Start, End: settled}); ok {
		// With no bars this is the whole settled gap; otherwise the
		// weekends, holidays and pre-listing days between them.
		w.NoData = MissingRanges(settledGap, days, nil)
	}
	if len(w.Bars) == 0 && len(w.NoData) == 0 {
		return 0, nil
	}

	inserted, err := r.store.ApplyFetch(ctx, w)
	if err != nil {
		return 0, err
	}
	r.log.Debug("gap filled", "ticker", ticker, "range", gap.String(), "bars", len(bars), "empty_ranges", len(w.NoData))
	return inserted, nil
}

func (r *Retriever) ensureSecurity(ctx context.Context, ticker string) error {
	_, created, err := r.store.EnsureSecurity(ctx, ticker)
	if err != nil {
		return err
	}
	if !created || r.meta == nil {
		return nil
	}

	info, err := r.meta.LookupSecurity(ctx, ticker)
	if err != nil {
		r.log.Warn("security lookup failed", "ticker", ticker, "error", err)
		info = SecurityInfo{Name: ticker}
	}
	if info.Name == "" {
		info.Name = ticker
	}
	return r.store.UpdateSecurityInfo(ctx, ticker, info.Name, info.AssetType)
}
