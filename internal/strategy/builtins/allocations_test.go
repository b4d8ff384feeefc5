package builtins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
	"stocktest/internal/strategy"
)

func input() strategy.Input {
	return strategy.Input{
		Period:  domain.Period{Name: "2020-2023", Start: domain.MustParseDay("2020-01-01"), End: domain.MustParseDay("2023-12-31")},
		Tickers: []string{"aapl", "MSFT", "AAPL", " spy "},
		Base: backtest.Config{
			InitialCapital: 5_000_00,
			CostPct:        0.001,
			Frequency:      domain.FrequencyWeekly,
			Benchmark:      "SPY",
		},
	}
}

func TestNewRegistry(t *testing.T) {
	assert.Equal(t, []string{"custom", "equal-weight", "per-ticker"}, NewRegistry().List())
}

func TestPerTicker(t *testing.T) {
	combos, err := PerTicker{}.Combinations(input())
	require.NoError(t, err)
	require.Len(t, combos, 3)

	assert.Equal(t, "2020-2023/AAPL", combos[0].Key)
	assert.Equal(t, "2020-2023", combos[0].Period)
	assert.Equal(t, map[string]float64{"AAPL": 1}, combos[0].Config.Weights)
	assert.Equal(t, "AAPL", combos[0].Config.Name)
	assert.Equal(t, domain.Cents(5_000_00), combos[0].Config.InitialCapital)
	assert.Equal(t, domain.FrequencyWeekly, combos[0].Config.Frequency)
	assert.Equal(t, "SPY", combos[0].Config.Benchmark)
	assert.Equal(t, input().Period.Range(), combos[2].Config.Range)
}

func TestEqualWeight(t *testing.T) {
	combos, err := EqualWeight{}.Combinations(input())
	require.NoError(t, err)
	require.Len(t, combos, 1)

	w := combos[0].Config.Weights
	require.Len(t, w, 3)
	sum := 0.0
	for _, v := range w {
		assert.InDelta(t, 1.0/3, v, 1e-12)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, backtest.WeightTolerance)
}

func TestCustom(t *testing.T) {
	in := input()
	in.Weights = map[string]float64{"aapl": 0.7, "MSFT": 0.3}
	combos, err := Custom{}.Combinations(in)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, map[string]float64{"AAPL": 0.7, "MSFT": 0.3}, combos[0].Config.Weights)
	assert.Equal(t, "2020-2023/custom", combos[0].Key)

	_, err = Custom{}.Combinations(input())
	assert.ErrorIs(t, err, domain.ErrInvalidWeights)
}

func TestNoTickers(t *testing.T) {
	in := input()
	in.Tickers = nil
	_, err := PerTicker{}.Combinations(in)
	assert.Error(t, err)
}
