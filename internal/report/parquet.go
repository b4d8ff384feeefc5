package report

import (
	"fmt"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// EquityRecord is the Parquet schema of equity.parquet.
type EquityRecord struct {
	Key   string `parquet:"key"`
	Day   int32  `parquet:"day,date"`
	Value int64  `parquet:"value_cents"`
	Cash  int64  `parquet:"cash_cents"`
}

// TradeRecord is the Parquet schema of trades.parquet.
type TradeRecord struct {
	Key    string  `parquet:"key"`
	Day    int32   `parquet:"day,date"`
	Ticker string  `parquet:"ticker"`
	Shares float64 `parquet:"shares"`
	Price  int64   `parquet:"price_cents"`
	Value  float64 `parquet:"value"`
	Cost   float64 `parquet:"cost"`
}

// WriteParquet writes equity.parquet and trades.parquet covering every
// entry, rows in entry order.
func (w *Writer) WriteParquet(entries []Entry) error {
	var equity []EquityRecord
	var trades []TradeRecord
	for _, e := range entries {
		for _, p := range e.Result.Equity {
			equity = append(equity, EquityRecord{
				Key:   e.Key,
				Day:   int32(p.Day),
				Value: int64(p.Value),
				Cash:  int64(p.Cash),
			})
		}
		for _, t := range e.Result.Trades {
			trades = append(trades, TradeRecord{
				Key:    e.Key,
				Day:    int32(t.Day),
				Ticker: t.Ticker,
				Shares: t.Shares.InexactFloat64(),
				Price:  int64(t.Price),
				Value:  t.Value.InexactFloat64(),
				Cost:   t.Cost.InexactFloat64(),
			})
		}
	}
	if len(equity) == 0 {
		return ErrEmptyEquity
	}
	if err := parquet.WriteFile(filepath.Join(w.Dir, "equity.parquet"), equity); err != nil {
		return fmt.Errorf("writing equity.parquet: %w", err)
	}
	if len(trades) == 0 {
		return ErrEmptyTrades
	}
	if err := parquet.WriteFile(filepath.Join(w.Dir, "trades.parquet"), trades); err != nil {
		return fmt.Errorf("writing trades.parquet: %w", err)
	}
	return nil
}

// ReadEquity loads an equity.parquet file.
func ReadEquity(path string) ([]EquityRecord, error) {
	return parquet.ReadFile[EquityRecord](path)
}

// ReadTrades loads a trades.parquet file.
func ReadTrades(path string) ([]TradeRecord, error) {
	return parquet.ReadFile[TradeRecord](path)
}
