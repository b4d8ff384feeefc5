package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
)

func curve(start string, values ...float64) []backtest.EquityPoint {
	d := domain.MustParseDay(start)
	out := make([]backtest.EquityPoint, len(values))
	for i, v := range values {
		out[i] = backtest.EquityPoint{Day: d.AddDays(i), Value: domain.ToCents(v)}
	}
	return out
}

func TestTotalReturn(t *testing.T) {
	assert.InDelta(t, 0.10, TotalReturn([]float64{10000, 10500, 11000}), 1e-12)
	assert.Zero(t, TotalReturn(nil))
	assert.Zero(t, TotalReturn([]float64{0, 5}))
}

func TestCAGR(t *testing.T) {
	start := domain.MustParseDay("2020-01-01")
	c := []backtest.EquityPoint{
		{Day: start, Value: 10_000_00},
		{Day: start.AddDays(730), Value: 12_100_00},
	}
	assert.InDelta(t, 0.10, CAGR(c), 1e-3)
	assert.InDelta(t, math.Pow(1.21, daysPerYear/730)-1, CAGR(c), 1e-12)
	assert.Zero(t, CAGR(c[:1]))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.25, MaxDrawdown([]float64{100, 120, 90, 110, 130}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{1, 2, 3}))
}

func TestSharpe(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{100, 100, 100, 100}, 0), "flat curve has no volatility")
	assert.Zero(t, Sharpe([]float64{100}, 0))

	up := []float64{100, 101, 103, 102, 105, 107}
	assert.Positive(t, Sharpe(up, 0))
	assert.Greater(t, Sharpe(up, 0), Sharpe(up, 0.05))
}

func TestBetaAgainstItself(t *testing.T) {
	c := curve("2024-01-01", 100, 102, 101, 104, 103, 106)
	assert.InDelta(t, 1.0, Beta(c, c), 1e-9)
	assert.InDelta(t, 0.0, Alpha(c, c, 0), 1e-9)
}

func TestBetaOfLeveredCurve(t *testing.T) {
	bench := curve("2024-01-01", 100, 102, 101, 104, 103)
	// Twice the benchmark's daily return each day.
	vals := []float64{100}
	br := Returns(Values(bench))
	for _, r := range br {
		vals = append(vals, vals[len(vals)-1]*(1+2*r))
	}
	port := curve("2024-01-01", vals...)
	assert.InDelta(t, 2.0, Beta(port, bench), 0.01)
}

func TestSummarize(t *testing.T) {
	c := curve("2024-01-01", 10000, 10100, 10050, 10300)
	m := Summarize(c, nil, 0)
	assert.False(t, m.HasBenchmark)
	assert.InDelta(t, 0.03, m.TotalReturn, 1e-9)
	assert.False(t, math.IsNaN(m.Sharpe))

	b := curve("2024-01-01", 500, 505, 500, 510)
	m = Summarize(c, b, 0)
	assert.True(t, m.HasBenchmark)
	assert.InDelta(t, 0.02, m.BenchmarkReturn, 1e-9)
	assert.NotZero(t, m.Beta)
}
