// Package report writes backtest results to disk: CSV for people, Parquet
// for analysis tools, and msgpack snapshots for reloading a run.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"stocktest/internal/analysis"
	"stocktest/internal/backtest"
	"stocktest/internal/domain"
)

var (
	// ErrEmptyEquity is returned when exporting a curve with no points.
	ErrEmptyEquity = errors.New("equity curve is empty")
	// ErrEmptyTrades is returned when exporting a trade log with no trades.
	ErrEmptyTrades = errors.New("trade log is empty")
)

// Entry is one finished combination to export.
type Entry struct {
	Key     string
	Name    string
	Result  *backtest.Result
	Metrics analysis.Metrics
}

// NewEntry builds an Entry and computes its metrics.
func NewEntry(key string, res *backtest.Result, riskFree float64) Entry {
	name := res.Config.Name
	if name == "" {
		name = key
	}
	return Entry{
		Key:     key,
		Name:    name,
		Result:  res,
		Metrics: analysis.Summarize(res.Equity, res.Benchmark, riskFree),
	}
}

// Writer exports into one run directory <root>/<period>/<run-id>/.
type Writer struct {
	Dir    string
	RunID  string
	Period string
	log    *slog.Logger
}

// NewWriter creates a fresh run directory under root for period.
func NewWriter(root, period string) (*Writer, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, fileName(period), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	return &Writer{
		Dir:    dir,
		RunID:  id,
		Period: period,
		log:    slog.Default().With("component", "report", "run", id),
	}, nil
}

// WriteAll exports every entry and the summary. Per-file failures are
// collected; the remaining files are still written.
func (w *Writer) WriteAll(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if _, err := w.WriteEquityCSV(e.Name, e.Result.Equity); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Key, err))
		}
		if _, err := w.WriteTradesCSV(e.Name, e.Result.Trades); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Key, err))
		}
		if _, err := w.WriteSnapshot(e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Key, err))
		}
	}
	if len(entries) > 0 {
		if _, err := w.WriteSummary(entries); err != nil {
			errs = append(errs, err)
		}
		if err := w.WriteParquet(entries); err != nil {
			errs = append(errs, err)
		}
	}
	w.log.Info("report written", "dir", w.Dir, "entries", len(entries), "errors", len(errs))
	return errors.Join(errs...)
}

// WriteEquityCSV writes equity_<name>.csv.
func (w *Writer) WriteEquityCSV(name string, curve []backtest.EquityPoint) (string, error) {
	if len(curve) == 0 {
		return "", ErrEmptyEquity
	}
	rows := [][]string{{"date", "value", "cash"}}
	for _, p := range curve {
		rows = append(rows, []string{p.Day.String(), p.Value.String(), p.Cash.String()})
	}
	return w.writeCSV("equity_"+fileName(name)+".csv", rows)
}

// WriteTradesCSV writes trades_<name>.csv.
func (w *Writer) WriteTradesCSV(name string, trades []backtest.Trade) (string, error) {
	if len(trades) == 0 {
		return "", ErrEmptyTrades
	}
	rows := [][]string{{"date", "ticker", "shares", "price", "value", "cost"}}
	for _, t := range trades {
		rows = append(rows, []string{
			t.Day.String(),
			t.Ticker,
			t.Shares.StringFixed(6),
			t.Price.String(),
			t.Value.StringFixed(2),
			t.Cost.StringFixed(2),
		})
	}
	return w.writeCSV("trades_"+fileName(name)+".csv", rows)
}

// WriteSummary writes summary.csv, one row per entry, best total return
// first.
func (w *Writer) WriteSummary(entries []Entry) (string, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Metrics.TotalReturn != sorted[j].Metrics.TotalReturn {
			return sorted[i].Metrics.TotalReturn > sorted[j].Metrics.TotalReturn
		}
		return sorted[i].Key < sorted[j].Key
	})

	rows := [][]string{{
		"name", "key", "total_return", "cagr", "sharpe", "max_drawdown", "volatility",
		"beta", "alpha", "benchmark_return", "final_value", "trades", "total_cost",
	}}
	for _, e := range sorted {
		m := e.Metrics
		bench := func(v float64) string {
			if !m.HasBenchmark {
				return ""
			}
			return ratio(v)
		}
		rows = append(rows, []string{
			e.Name,
			e.Key,
			ratio(m.TotalReturn),
			ratio(m.CAGR),
			ratio(m.Sharpe),
			ratio(m.MaxDrawdown),
			ratio(m.Volatility),
			bench(m.Beta),
			bench(m.Alpha),
			bench(m.BenchmarkReturn),
			e.Result.Final.Value.String(),
			strconv.Itoa(len(e.Result.Trades)),
			backtest.TotalCost(e.Result.Trades).StringFixed(2),
		})
	}
	return w.writeCSV("summary.csv", rows)
}

func (w *Writer) writeCSV(name string, rows [][]string) (string, error) {
	path := filepath.Join(w.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func ratio(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// fileName makes s safe to use as a single path element.
func fileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

func dayRange(r domain.DateRange) (string, string) {
	return r.Start.String(), r.End.String()
}
