package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"stocktest/internal/analysis"
)

// Snapshot is the msgpack form of one combination's result.
type Snapshot struct {
	RunID          string             `msgpack:"run_id"`
	Period         string             `msgpack:"period"`
	Key            string             `msgpack:"key"`
	Name           string             `msgpack:"name"`
	Start          string             `msgpack:"start"`
	End            string             `msgpack:"end"`
	Weights        map[string]float64 `msgpack:"weights"`
	InitialCapital int64              `msgpack:"initial_capital_cents"`
	CostPct        float64            `msgpack:"cost_pct"`
	Frequency      string             `msgpack:"frequency"`
	Benchmark      string             `msgpack:"benchmark,omitempty"`
	Skipped        []string           `msgpack:"skipped,omitempty"`
	Metrics        analysis.Metrics   `msgpack:"metrics"`
	Equity         []SnapshotPoint    `msgpack:"equity"`
	Trades         []SnapshotTrade    `msgpack:"trades"`
	FinalValue     int64              `msgpack:"final_value_cents"`
}

// SnapshotPoint is one equity point.
type SnapshotPoint struct {
	Day   int32 `msgpack:"d"`
	Value int64 `msgpack:"v"`
	Cash  int64 `msgpack:"c"`
}

// SnapshotTrade is one trade. Decimal amounts are kept as strings.
type SnapshotTrade struct {
	Day    int32  `msgpack:"d"`
	Ticker string `msgpack:"t"`
	Shares string `msgpack:"s"`
	Price  int64  `msgpack:"p"`
	Value  string `msgpack:"v"`
	Cost   string `msgpack:"c"`
}

func (w *Writer) snapshot(e Entry) Snapshot {
	cfg := e.Result.Config
	start, end := dayRange(cfg.Range)
	s := Snapshot{
		RunID:          w.RunID,
		Period:         w.Period,
		Key:            e.Key,
		Name:           e.Name,
		Start:          start,
		End:            end,
		Weights:        cfg.Weights,
		InitialCapital: int64(cfg.InitialCapital),
		CostPct:        cfg.CostPct,
		Frequency:      string(cfg.Frequency),
		Benchmark:      cfg.Benchmark,
		Skipped:        e.Result.Skipped,
		Metrics:        e.Metrics,
		FinalValue:     int64(e.Result.Final.Value),
	}
	for _, p := range e.Result.Equity {
		s.Equity = append(s.Equity, SnapshotPoint{Day: int32(p.Day), Value: int64(p.Value), Cash: int64(p.Cash)})
	}
	for _, t := range e.Result.Trades {
		s.Trades = append(s.Trades, SnapshotTrade{
			Day:    int32(t.Day),
			Ticker: t.Ticker,
			Shares: t.Shares.String(),
			Price:  int64(t.Price),
			Value:  t.Value.String(),
			Cost:   t.Cost.String(),
		})
	}
	return s
}

// WriteSnapshot writes <name>.msgpack.
func (w *Writer) WriteSnapshot(e Entry) (string, error) {
	if len(e.Result.Equity) == 0 {
		return "", ErrEmptyEquity
	}
	data, err := msgpack.Marshal(w.snapshot(e))
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	path := filepath.Join(w.Dir, fileName(e.Name)+".msgpack")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}
