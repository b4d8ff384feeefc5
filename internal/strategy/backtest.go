package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"stocktest/internal/backtest"
	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/gather"
)

// Prefetcher fills the cache for many tickers. *gather.Orchestrator
// satisfies it.
type Prefetcher interface {
	FetchAll(ctx context.Context, tickers []string, window domain.DateRange) (map[string]gather.ItemResult, error)
}

// PeriodRun is the outcome of one strategy over one period.
type PeriodRun struct {
	Period   domain.Period
	Strategy string
	Fetch    map[string]gather.ItemResult
	Results  map[string]backtest.MatrixResult
}

// Failed returns the keys of failed combinations, sorted.
func (r *PeriodRun) Failed() []string {
	var keys []string
	for k, mr := range r.Results {
		if mr.Err != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Backtester runs a named strategy over a period in two phases: a bounded
// fetch pass that makes every needed price resident, then a bounded
// backtest pass that only reads the cache.
type Backtester struct {
	registry    *Registry
	fetch       Prefetcher
	runner      backtest.Runner
	concurrency int
	log         *slog.Logger
}

// NewBacktester creates a Backtester. concurrency bounds the backtest pool;
// non-positive means one per CPU.
func NewBacktester(registry *Registry, fetch Prefetcher, runner backtest.Runner, concurrency int) *Backtester {
	return &Backtester{
		registry:    registry,
		fetch:       fetch,
		runner:      runner,
		concurrency: concurrency,
		log:         slog.Default().With("component", "backtester"),
	}
}

// Run executes strategyName for in.Period. Per-combination failures are in
// the returned PeriodRun; the error is reserved for an unknown strategy,
// invalid input, storage failure, or cancellation of the fetch pass.
func (bt *Backtester) Run(ctx context.Context, strategyName string, in Input) (*PeriodRun, error) {
	s, ok := bt.registry.Get(strategyName)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", strategyName, bt.registry.List())
	}
	combos, err := s.Combinations(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strategyName, err)
	}

	run := &PeriodRun{Period: in.Period, Strategy: strategyName}

	needed := neededTickers(combos)
	bt.log.Info("prefetching", "period", in.Period.Name, "tickers", len(needed), "combinations", len(combos))
	run.Fetch, err = bt.fetch.FetchAll(ctx, needed, in.Period.Range())
	if err != nil {
		return run, fmt.Errorf("prefetch %s: %w", in.Period.Name, err)
	}

	// The backtest pool reads the cache only, so a weighted ticker whose
	// fetch failed fails its combination with the fetch error.
	runnable := make([]backtest.Combination, 0, len(combos))
	failed := make(map[string]backtest.MatrixResult)
	for _, c := range combos {
		if err := fetchFailure(c, run.Fetch); err != nil {
			failed[c.Key] = backtest.MatrixResult{Combination: c, Err: err}
			continue
		}
		runnable = append(runnable, c)
	}

	run.Results = backtest.RunMatrix(ctx, bt.runner, runnable, bt.concurrency)
	for k, mr := range failed {
		run.Results[k] = mr
	}
	return run, nil
}

func neededTickers(combos []backtest.Combination) []string {
	set := make(map[string]struct{})
	for _, c := range combos {
		for t := range c.Config.Weights {
			set[domain.NormalizeTicker(t)] = struct{}{}
		}
		for _, t := range c.Config.Tickers {
			set[domain.NormalizeTicker(t)] = struct{}{}
		}
		if c.Config.Benchmark != "" {
			set[domain.NormalizeTicker(c.Config.Benchmark)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// fetchFailure reports the first weighted ticker whose fetch failed for a
// reason other than confirmed or not-yet-settled absence of data.
func fetchFailure(c backtest.Combination, fetched map[string]gather.ItemResult) error {
	tickers := make([]string, 0, len(c.Config.Weights))
	for t := range c.Config.Weights {
		tickers = append(tickers, domain.NormalizeTicker(t))
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		item, ok := fetched[t]
		if !ok || item.OK() || item.Result.Outcome == cache.OutcomeNoData || item.Result.Outcome == cache.OutcomePending {
			continue
		}
		return fmt.Errorf("prices for %s unavailable: %w", t, item.Err)
	}
	return nil
}
