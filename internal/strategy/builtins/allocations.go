// Package builtins provides the allocation schemes that ship with stocktest.
package builtins

import (
	"errors"
	"fmt"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
	"stocktest/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = PerTicker{}
	_ strategy.Strategy = EqualWeight{}
	_ strategy.Strategy = Custom{}
)

// NewRegistry returns a registry holding every built-in scheme.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(PerTicker{})
	r.Register(EqualWeight{})
	r.Register(Custom{})
	return r
}

func combination(in strategy.Input, name string, weights map[string]float64) backtest.Combination {
	cfg := in.Base
	cfg.Name = name
	cfg.Range = in.Period.Range()
	cfg.Weights = weights
	cfg.Tickers = make([]string, 0, len(weights))
	for t := range weights {
		cfg.Tickers = append(cfg.Tickers, t)
	}
	return backtest.Combination{
		Key:    strategy.CombinationKey(in.Period.Name, name),
		Period: in.Period.Name,
		Config: cfg,
	}
}

func tickers(in strategy.Input) ([]string, error) {
	seen := make(map[string]bool, len(in.Tickers))
	var out []string
	for _, t := range in.Tickers {
		t = domain.NormalizeTicker(t)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no tickers")
	}
	return out, nil
}

// PerTicker backtests every ticker on its own at full weight.
type PerTicker struct{}

// Name returns "per-ticker".
func (PerTicker) Name() string { return "per-ticker" }

// Combinations returns one single-ticker combination per ticker.
func (PerTicker) Combinations(in strategy.Input) ([]backtest.Combination, error) {
	ts, err := tickers(in)
	if err != nil {
		return nil, err
	}
	out := make([]backtest.Combination, 0, len(ts))
	for _, t := range ts {
		out = append(out, combination(in, t, map[string]float64{t: 1.0}))
	}
	return out, nil
}

// EqualWeight holds all tickers in one portfolio at 1/N each.
type EqualWeight struct{}

// Name returns "equal-weight".
func (EqualWeight) Name() string { return "equal-weight" }

// Combinations returns a single combination of all tickers.
func (EqualWeight) Combinations(in strategy.Input) ([]backtest.Combination, error) {
	ts, err := tickers(in)
	if err != nil {
		return nil, err
	}
	w := 1.0 / float64(len(ts))
	weights := make(map[string]float64, len(ts))
	for _, t := range ts {
		weights[t] = w
	}
	return []backtest.Combination{combination(in, "equal-weight", weights)}, nil
}

// Custom uses the configured weights as-is. Validation happens in the
// engine so malformed weights fail before any trade.
type Custom struct{}

// Name returns "custom".
func (Custom) Name() string { return "custom" }

// Combinations returns one combination with the configured weights.
func (Custom) Combinations(in strategy.Input) ([]backtest.Combination, error) {
	if len(in.Weights) == 0 {
		return nil, fmt.Errorf("custom strategy: %w", &domain.InvalidWeightsError{Reason: "no weights configured"})
	}
	weights := make(map[string]float64, len(in.Weights))
	for t, w := range in.Weights {
		weights[domain.NormalizeTicker(t)] += w
	}
	return []backtest.Combination{combination(in, "custom", weights)}, nil
}
