package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
)

func sampleResult(name string, values ...domain.Cents) *backtest.Result {
	start := domain.MustParseDay("2024-01-02")
	res := &backtest.Result{
		Config: backtest.Config{
			Name:           name,
			Weights:        map[string]float64{name: 1},
			Range:          domain.DateRange{Start: start, End: start.AddDays(len(values))},
			InitialCapital: values[0],
			Frequency:      domain.FrequencyMonthly,
		},
	}
	for i, v := range values {
		res.Equity = append(res.Equity, backtest.EquityPoint{Day: start.AddDays(i), Value: v})
	}
	res.Trades = []backtest.Trade{{
		Day:    start,
		Ticker: name,
		Shares: decimal.NewFromInt(100),
		Price:  100_00,
		Value:  decimal.NewFromInt(10000),
		Cost:   decimal.RequireFromString("10.00"),
	}}
	res.Final.Value = values[len(values)-1]
	return res
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestNewWriterLayout(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, "2020-2023")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "2020-2023", w.RunID), w.Dir)
	assert.DirExists(t, w.Dir)

	w2, err := NewWriter(root, "2020-2023")
	require.NoError(t, err)
	assert.NotEqual(t, w.RunID, w2.RunID)
}

func TestWriteEquityCSV(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "p")
	require.NoError(t, err)

	path, err := w.WriteEquityCSV("AAPL", sampleResult("AAPL", 10_000_00, 11_000_00).Equity)
	require.NoError(t, err)
	assert.Equal(t, "equity_AAPL.csv", filepath.Base(path))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"date", "value", "cash"}, rows[0])
	assert.Equal(t, []string{"2024-01-03", "11000.00", "0.00"}, rows[2])
}

func TestWriteTradesCSV(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "p")
	require.NoError(t, err)

	path, err := w.WriteTradesCSV("AAPL", sampleResult("AAPL", 10_000_00).Trades)
	require.NoError(t, err)
	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2024-01-02", "AAPL", "100.000000", "100.00", "10000.00", "10.00"}, rows[1])
}

func TestEmptyExportsFail(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "p")
	require.NoError(t, err)

	_, err = w.WriteEquityCSV("X", nil)
	assert.ErrorIs(t, err, ErrEmptyEquity)
	_, err = w.WriteTradesCSV("X", nil)
	assert.ErrorIs(t, err, ErrEmptyTrades)
}

func TestSummarySortedByReturn(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "p")
	require.NoError(t, err)

	entries := []Entry{
		NewEntry("p/LOW", sampleResult("LOW", 100_00, 90_00), 0),
		NewEntry("p/HIGH", sampleResult("HIGH", 100_00, 150_00), 0),
		NewEntry("p/MID", sampleResult("MID", 100_00, 110_00), 0),
	}
	path, err := w.WriteSummary(entries)
	require.NoError(t, err)

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, "HIGH", rows[1][0])
	assert.Equal(t, "MID", rows[2][0])
	assert.Equal(t, "LOW", rows[3][0])
	assert.Equal(t, "0.500000", rows[1][2])
	assert.Equal(t, "", rows[1][7], "no benchmark leaves beta blank")
	assert.Equal(t, "10.00", rows[1][12])
}

func TestWriteAllAndReload(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "p")
	require.NoError(t, err)

	entries := []Entry{
		NewEntry("p/AAPL", sampleResult("AAPL", 10_000_00, 10_500_00, 11_000_00), 0),
		NewEntry("p/MSFT", sampleResult("MSFT", 10_000_00, 9_000_00), 0),
	}
	require.NoError(t, w.WriteAll(entries))

	for _, f := range []string{
		"equity_AAPL.csv", "trades_AAPL.csv", "AAPL.msgpack",
		"equity_MSFT.csv", "trades_MSFT.csv", "MSFT.msgpack",
		"summary.csv", "equity.parquet", "trades.parquet",
	} {
		assert.FileExists(t, filepath.Join(w.Dir, f))
	}

	snap, err := ReadSnapshot(filepath.Join(w.Dir, "AAPL.msgpack"))
	require.NoError(t, err)
	assert.Equal(t, w.RunID, snap.RunID)
	assert.Equal(t, "p/AAPL", snap.Key)
	assert.Equal(t, int64(11_000_00), snap.FinalValue)
	assert.Len(t, snap.Equity, 3)
	assert.InDelta(t, 0.10, snap.Metrics.TotalReturn, 1e-9)
	require.Len(t, snap.Trades, 1)
	assert.Equal(t, "10", snap.Trades[0].Cost)

	equity, err := ReadEquity(filepath.Join(w.Dir, "equity.parquet"))
	require.NoError(t, err)
	assert.Len(t, equity, 5)
	assert.Equal(t, "p/AAPL", equity[0].Key)

	trades, err := ReadTrades(filepath.Join(w.Dir, "trades.parquet"))
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BRK.B", fileName("BRK.B"))
	assert.Equal(t, "2020_AAPL", fileName("2020/AAPL"))
	assert.Equal(t, "unnamed", fileName("  "))
}
