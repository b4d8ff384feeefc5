package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
)

// memSource serves bars from memory and counts lookups.
type memSource struct {
	mu    sync.Mutex
	bars  map[string][]domain.PriceBar
	calls int
}

func (m *memSource) GetPrices(_ context.Context, ticker string, w domain.DateRange) (cache.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	res := cache.Result{Ticker: ticker, Window: w, Outcome: cache.OutcomeNoData}
	for _, b := range m.bars[ticker] {
		if w.Contains(b.Day) {
			res.Bars = append(res.Bars, b)
		}
	}
	if len(res.Bars) > 0 {
		res.Outcome = cache.OutcomeComplete
	}
	return res, nil
}

// weekdays returns n consecutive weekdays starting at from.
func weekdays(from string, n int) []domain.Day {
	var out []domain.Day
	for d := domain.MustParseDay(from); len(out) < n; d++ {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func series(ticker string, days []domain.Day, closes func(i int) domain.Cents) []domain.PriceBar {
	out := make([]domain.PriceBar, len(days))
	for i, d := range days {
		c := closes(i)
		out[i] = domain.PriceBar{Ticker: ticker, Day: d, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func window(days []domain.Day) domain.DateRange {
	return domain.DateRange{Start: days[0], End: days[len(days)-1]}
}

func TestSingleTickerScenario(t *testing.T) {
	days := weekdays("2024-01-02", 40) // spans January and February
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(i int) domain.Cents {
			if i == 0 {
				return 100_00
			}
			return 110_00
		}),
	}}

	res, err := NewEngine(src).Run(context.Background(), Config{
		Tickers:        []string{"AAA"},
		Weights:        map[string]float64{"AAA": 1.0},
		Range:          window(days),
		InitialCapital: 10_000_00,
		Frequency:      domain.FrequencyMonthly,
	})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, days[0], tr.Day)
	assert.True(t, tr.Shares.Equal(decimal.NewFromInt(100)), tr.Shares.String())
	assert.Equal(t, domain.Cents(100_00), tr.Price)

	require.Len(t, res.Equity, len(days))
	assert.Equal(t, domain.Cents(10_000_00), res.Equity[0].Value)
	last := res.Equity[len(res.Equity)-1]
	assert.Equal(t, "11000.00", last.Value.String())
	assert.Equal(t, last.Value, res.Final.Value)
	assert.True(t, res.Final.Cash.IsZero())
}

func TestInvalidWeightsFailBeforeAnyLookup(t *testing.T) {
	src := &memSource{}
	eng := NewEngine(src)

	cases := map[string]map[string]float64{
		"sum too low":  {"AAA": 0.5, "BBB": 0.4},
		"sum too high": {"AAA": 0.7, "BBB": 0.7},
		"negative":     {"AAA": 1.5, "BBB": -0.5},
		"empty":        {},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := eng.Run(context.Background(), Config{Weights: w, Range: domain.DateRange{Start: 1, End: 10}})
			assert.ErrorIs(t, err, domain.ErrInvalidWeights)
		})
	}
	assert.Zero(t, src.calls)
}

func TestWeightsWithinTolerance(t *testing.T) {
	days := weekdays("2024-01-02", 5)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 10_00 }),
		"BBB": series("BBB", days, func(int) domain.Cents { return 20_00 }),
		"CCC": series("CCC", days, func(int) domain.Cents { return 30_00 }),
	}}
	res, err := NewEngine(src).Run(context.Background(), Config{
		Weights: map[string]float64{"AAA": 0.3333, "BBB": 0.3333, "CCC": 0.3333},
		Range:   window(days),
	})
	require.NoError(t, err)
	assert.Len(t, res.Trades, 3)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, res.Config.Tickers)
}

func TestWeightedTickerWithoutData(t *testing.T) {
	days := weekdays("2024-01-02", 5)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 10_00 }),
	}}
	_, err := NewEngine(src).Run(context.Background(), Config{
		Weights: map[string]float64{"AAA": 0.5, "ZZZ": 0.5},
		Range:   window(days),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWeights)
}

func TestNoDataAvailable(t *testing.T) {
	_, err := NewEngine(&memSource{}).Run(context.Background(), Config{
		Weights: map[string]float64{"AAA": 1},
		Range:   domain.DateRange{Start: 1, End: 10},
	})
	assert.ErrorIs(t, err, domain.ErrNoDataAvailable)
}

func TestMissingDayKeepsLastClose(t *testing.T) {
	days := weekdays("2024-03-04", 3)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 10_00 }),
		// BBB has no bar on the middle day.
		"BBB": {
			{Ticker: "BBB", Day: days[0], Close: 20_00},
			{Ticker: "BBB", Day: days[2], Close: 30_00},
		},
	}}
	res, err := NewEngine(src).Run(context.Background(), Config{
		Weights:        map[string]float64{"AAA": 0.5, "BBB": 0.5},
		Range:          window(days),
		InitialCapital: 1_000_00,
		Frequency:      domain.FrequencyMonthly,
	})
	require.NoError(t, err)
	require.Len(t, res.Equity, 3)
	assert.Equal(t, domain.Cents(1_000_00), res.Equity[1].Value)
	// 25 BBB shares revalued from 20 to 30.
	assert.Equal(t, domain.Cents(1_250_00), res.Equity[2].Value)
}

func TestTransactionCostsReduceCash(t *testing.T) {
	days := weekdays("2024-01-02", 3)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 100_00 }),
	}}
	res, err := NewEngine(src).Run(context.Background(), Config{
		Weights:        map[string]float64{"AAA": 1},
		Range:          window(days),
		InitialCapital: 10_000_00,
		CostPct:        0.01,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Cost.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.Cents(9_900_00), res.Equity[0].Value)
	assert.Equal(t, domain.Cents(-100_00), res.Equity[0].Cash)
	assert.True(t, TotalCost(res.Trades).Equal(decimal.NewFromInt(100)))
}

func TestDailyRebalanceIsDeterministic(t *testing.T) {
	days := weekdays("2024-01-02", 60)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(i int) domain.Cents { return domain.Cents(100_00 + (i*37)%500) }),
		"BBB": series("BBB", days, func(i int) domain.Cents { return domain.Cents(50_00 + (i*53)%700) }),
	}}
	cfg := Config{
		Weights:   map[string]float64{"AAA": 0.6, "BBB": 0.4},
		Range:     window(days),
		CostPct:   0.001,
		Frequency: domain.FrequencyDaily,
	}
	eng := NewEngine(src)

	first, err := eng.Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Greater(t, len(first.Trades), 2)
	assert.Equal(t, first.Equity, second.Equity)
	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		assert.Equal(t, a.Day, b.Day)
		assert.Equal(t, a.Ticker, b.Ticker)
		assert.True(t, a.Shares.Equal(b.Shares))
		assert.True(t, a.Cost.Equal(b.Cost))
	}
	assert.Equal(t, first.Final.Value, first.Equity[len(first.Equity)-1].Value)
}

func TestBenchmarkCurve(t *testing.T) {
	days := weekdays("2024-01-02", 3)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 10_00 }),
		"SPY": series("SPY", days, func(i int) domain.Cents { return domain.Cents(50_00 + i*12_50) }),
	}}
	res, err := NewEngine(src).Run(context.Background(), Config{
		Weights:   map[string]float64{"AAA": 1},
		Range:     window(days),
		Benchmark: "spy",
	})
	require.NoError(t, err)
	require.NoError(t, res.BenchmarkErr)
	require.Len(t, res.Benchmark, 3)
	assert.Equal(t, DefaultInitialCapital, res.Benchmark[0].Value)
	assert.Equal(t, domain.Cents(15_000_00), res.Benchmark[2].Value)
}

func TestBenchmarkFailureDegrades(t *testing.T) {
	days := weekdays("2024-01-02", 3)
	src := &memSource{bars: map[string][]domain.PriceBar{
		"AAA": series("AAA", days, func(int) domain.Cents { return 10_00 }),
	}}
	res, err := NewEngine(src).Run(context.Background(), Config{
		Weights:   map[string]float64{"AAA": 1},
		Range:     window(days),
		Benchmark: "NOPE",
	})
	require.NoError(t, err)
	assert.Error(t, res.BenchmarkErr)
	assert.Nil(t, res.Benchmark)
	assert.Len(t, res.Equity, 3)
}

func TestRebalanceDays(t *testing.T) {
	// Fri 2024-01-26 .. Tue 2024-02-06, weekdays only.
	index := weekdays("2024-01-26", 8)

	daily, err := RebalanceDays(index, domain.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, index, daily)

	weekly, err := RebalanceDays(index, domain.FrequencyWeekly)
	require.NoError(t, err)
	assert.Equal(t, []domain.Day{
		domain.MustParseDay("2024-01-26"),
		domain.MustParseDay("2024-01-29"),
		domain.MustParseDay("2024-02-05"),
	}, weekly)

	monthly, err := RebalanceDays(index, domain.FrequencyMonthly)
	require.NoError(t, err)
	assert.Equal(t, []domain.Day{
		domain.MustParseDay("2024-01-26"),
		domain.MustParseDay("2024-02-01"),
	}, monthly)

	_, err = RebalanceDays(index, "hourly")
	assert.Error(t, err)
}

func TestWeeklyRebalanceAcrossYearBoundary(t *testing.T) {
	// 2024-12-30 and 2025-01-02 share ISO week 2025-W01.
	index := []domain.Day{
		domain.MustParseDay("2024-12-27"),
		domain.MustParseDay("2024-12-30"),
		domain.MustParseDay("2025-01-02"),
		domain.MustParseDay("2025-01-06"),
	}
	weekly, err := RebalanceDays(index, domain.FrequencyWeekly)
	require.NoError(t, err)
	assert.Equal(t, []domain.Day{index[0], index[1], index[3]}, weekly)
}

// scriptedRunner fails for one ticker and tracks concurrency.
type scriptedRunner struct {
	inner       Runner
	failTicker  string
	panicTicker string
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *scriptedRunner) Run(ctx context.Context, cfg Config) (*Result, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(s.delay)

	for t := range cfg.Weights {
		switch t {
		case s.failTicker:
			return nil, errors.New("engine blew up")
		case s.panicTicker:
			panic("boom")
		}
	}
	return s.inner.Run(ctx, cfg)
}

func TestRunMatrixIsolatesFailures(t *testing.T) {
	days := weekdays("2024-01-02", 20)
	bars := make(map[string][]domain.PriceBar)
	var combos []Combination
	for i := 0; i < 8; i++ {
		tk := fmt.Sprintf("T%d", i)
		bars[tk] = series(tk, days, func(j int) domain.Cents { return domain.Cents(100_00 + j*10) })
		combos = append(combos, Combination{
			Key:    "p/" + tk,
			Period: "p",
			Config: Config{Weights: map[string]float64{tk: 1}, Range: window(days)},
		})
	}
	eng := NewEngine(&memSource{bars: bars})
	runner := &scriptedRunner{inner: eng, failTicker: "T3", panicTicker: "T5", delay: 10 * time.Millisecond}

	results := RunMatrix(context.Background(), runner, combos, 3)
	require.Len(t, results, 8)
	assert.LessOrEqual(t, runner.maxInFlight.Load(), int32(3))

	for _, c := range combos {
		mr := results[c.Key]
		switch c.Key {
		case "p/T3", "p/T5":
			assert.Error(t, mr.Err, c.Key)
			assert.Nil(t, mr.Result)
		default:
			require.NoError(t, mr.Err, c.Key)
			solo, err := eng.Run(context.Background(), c.Config)
			require.NoError(t, err)
			assert.Equal(t, solo.Equity, mr.Result.Equity, c.Key)
		}
	}
}

func TestRunMatrixCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	combos := []Combination{{Key: "a"}, {Key: "b"}}

	results := RunMatrix(ctx, NewEngine(&memSource{}), combos, 1)
	require.Len(t, results, 2)
	for _, mr := range results {
		assert.ErrorIs(t, mr.Err, context.Canceled)
	}
}

func TestDefaultConcurrency(t *testing.T) {
	assert.Positive(t, DefaultConcurrency())
}
