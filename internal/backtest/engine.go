package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
)

// WeightTolerance is how far the weights may sum from 1.0.
const WeightTolerance = 0.001

// DefaultInitialCapital is used when Config.InitialCapital is zero.
const DefaultInitialCapital = domain.Cents(10_000_00)

// PriceSource serves daily bars for a ticker and window. cache.CachedView
// satisfies it without touching the provider.
type PriceSource interface {
	GetPrices(ctx context.Context, ticker string, window domain.DateRange) (cache.Result, error)
}

// Config describes one backtest run.
type Config struct {
	Name           string
	Tickers        []string
	Weights        map[string]float64
	Range          domain.DateRange
	InitialCapital domain.Cents
	CostPct        float64 // fraction of traded value
	Frequency      domain.Frequency
	Benchmark      string
}

// Result is everything a run produces.
type Result struct {
	Config       Config
	Equity       []EquityPoint
	Trades       []Trade
	Final        Snapshot
	Benchmark    []EquityPoint
	BenchmarkErr error
	// Skipped lists tickers that had no bars in the window.
	Skipped []string
}

// Engine runs single backtests.
type Engine struct {
	prices PriceSource
	log    *slog.Logger
}

// NewEngine creates an Engine reading prices from src.
func NewEngine(src PriceSource) *Engine {
	return &Engine{prices: src, log: slog.Default().With("component", "backtest")}
}

// Run simulates cfg. It fails with InvalidWeights before loading anything
// when the weights are malformed, and with ErrNoDataAvailable when no ticker
// has bars in the window.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}

	series := make(map[string][]domain.PriceBar, len(cfg.Tickers))
	var skipped []string
	for _, t := range cfg.Tickers {
		res, err := e.prices.GetPrices(ctx, t, cfg.Range)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", t, err)
		}
		if len(res.Bars) == 0 {
			skipped = append(skipped, t)
			continue
		}
		series[t] = res.Bars
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%s %s: %w", cfg.Name, cfg.Range, domain.ErrNoDataAvailable)
	}
	for _, t := range sortedKeys(cfg.Weights) {
		if _, ok := series[t]; !ok {
			return nil, &domain.InvalidWeightsError{Reason: fmt.Sprintf("no price data for weighted ticker %s", t)}
		}
	}

	index := mergedIndex(series)
	rebalance, err := RebalanceDays(index, cfg.Frequency)
	if err != nil {
		return nil, err
	}
	isRebalance := make(map[domain.Day]bool, len(rebalance))
	for _, d := range rebalance {
		isRebalance[d] = true
	}

	p := NewPortfolio(cfg.InitialCapital, cfg.CostPct)
	cursor := make(map[string]int, len(series))
	prices := make(map[string]domain.Cents, len(series))
	equity := make([]EquityPoint, 0, len(index))

	for _, day := range index {
		// Advance each series to day; a ticker without a bar today keeps
		// its last known close.
		for t, bars := range series {
			i := cursor[t]
			for i < len(bars) && bars[i].Day <= day {
				prices[t] = bars[i].Close
				i++
			}
			cursor[t] = i
		}
		if len(prices) == 0 {
			continue
		}
		if isRebalance[day] {
			p.Rebalance(day, cfg.Weights, prices)
		}
		equity = append(equity, p.Mark(day, prices))
	}

	res := &Result{
		Config:  cfg,
		Equity:  equity,
		Trades:  p.Trades(),
		Final:   p.Snapshot(prices),
		Skipped: skipped,
	}

	if cfg.Benchmark != "" {
		res.Benchmark, res.BenchmarkErr = e.benchmark(ctx, cfg)
		if errors.Is(res.BenchmarkErr, domain.ErrStorage) {
			return nil, res.BenchmarkErr
		}
		if res.BenchmarkErr != nil {
			e.log.Warn("benchmark unavailable", "run", cfg.Name, "benchmark", cfg.Benchmark, "error", res.BenchmarkErr)
		}
	}
	return res, nil
}

// benchmark buys the benchmark with the initial capital at its first close
// and holds it.
func (e *Engine) benchmark(ctx context.Context, cfg Config) ([]EquityPoint, error) {
	res, err := e.prices.GetPrices(ctx, cfg.Benchmark, cfg.Range)
	if err != nil {
		return nil, err
	}
	if len(res.Bars) == 0 {
		if rerr := res.Err(); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("benchmark %s: %w", cfg.Benchmark, domain.ErrNoDataAvailable)
	}
	first := res.Bars[0].Close
	if first <= 0 {
		return nil, fmt.Errorf("benchmark %s: non-positive first close", cfg.Benchmark)
	}

	shares := centsToDecimal(cfg.InitialCapital).Div(centsToDecimal(first))
	curve := make([]EquityPoint, 0, len(res.Bars))
	for _, b := range res.Bars {
		curve = append(curve, EquityPoint{Day: b.Day, Value: decimalToCents(shares.Mul(centsToDecimal(b.Close)))})
	}
	return curve, nil
}

// normalize validates cfg and fills defaults. It touches nothing outside cfg.
func normalize(cfg Config) (Config, error) {
	if len(cfg.Weights) == 0 {
		return cfg, &domain.InvalidWeightsError{Reason: "no weights"}
	}
	weights := make(map[string]float64, len(cfg.Weights))
	sum := 0.0
	for t, w := range cfg.Weights {
		if math.IsNaN(w) || w < 0 {
			return cfg, &domain.InvalidWeightsError{Reason: fmt.Sprintf("weight for %s is %v", t, w)}
		}
		nt := domain.NormalizeTicker(t)
		if nt == "" {
			return cfg, &domain.InvalidWeightsError{Reason: "empty ticker"}
		}
		weights[nt] += w
		sum += w
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return cfg, &domain.InvalidWeightsError{Reason: fmt.Sprintf("weights sum to %.6f, want 1.0", sum)}
	}

	seen := make(map[string]bool)
	var tickers []string
	for _, t := range cfg.Tickers {
		t = domain.NormalizeTicker(t)
		if t != "" && !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	for _, t := range sortedKeys(weights) {
		if !seen[t] {
			if len(cfg.Tickers) > 0 {
				return cfg, &domain.InvalidWeightsError{Reason: fmt.Sprintf("weighted ticker %s is not in the ticker list", t)}
			}
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	sort.Strings(tickers)

	if cfg.Range.End < cfg.Range.Start {
		return cfg, fmt.Errorf("invalid range %s", cfg.Range)
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.CostPct < 0 {
		return cfg, fmt.Errorf("negative transaction cost %v", cfg.CostPct)
	}
	if cfg.Frequency == "" {
		cfg.Frequency = domain.FrequencyMonthly
	}
	if _, err := domain.ParseFrequency(string(cfg.Frequency)); err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		cfg.Name = defaultName(tickers)
	}

	cfg.Weights = weights
	cfg.Tickers = tickers
	cfg.Benchmark = domain.NormalizeTicker(cfg.Benchmark)
	return cfg, nil
}

func defaultName(tickers []string) string {
	if len(tickers) == 1 {
		return tickers[0]
	}
	return fmt.Sprintf("portfolio-%d", len(tickers))
}

// mergedIndex is the ascending union of trading days across series.
func mergedIndex(series map[string][]domain.PriceBar) []domain.Day {
	set := make(map[domain.Day]struct{})
	for _, bars := range series {
		for _, b := range bars {
			set[b.Day] = struct{}{}
		}
	}
	index := make([]domain.Day, 0, len(set))
	for d := range set {
		index = append(index, d)
	}
	sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })
	return index
}

// TotalCost sums the transaction costs of trades.
func TotalCost(trades []Trade) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Cost)
	}
	return total
}
