// Package strategy defines allocation schemes that turn configured tickers
// into backtest combinations, and a Registry for looking them up by name.
package strategy

import (
	"sort"
	"sync"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
)

// Input is what an allocation scheme works from.
type Input struct {
	Period  domain.Period
	Tickers []string
	// Weights is only read by schemes that take explicit weights.
	Weights map[string]float64
	// Base carries capital, cost, frequency and benchmark. Its tickers,
	// weights, range and name are overwritten.
	Base backtest.Config
}

// Strategy is the interface that all allocation schemes implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Combinations returns the backtests to run for one period. Keys are
	// unique within the returned slice.
	Combinations(in Input) ([]backtest.Combination, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CombinationKey is the conventional key of a combination: period/name.
func CombinationKey(period, name string) string {
	return period + "/" + name
}
