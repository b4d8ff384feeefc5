package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"stocktest/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk. It mirrors
// the SQLite cache for offline analysis; it is never the source of truth.
type ParquetStore struct {
	DataDir string
	Market  string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, Market: "us"}
}

// BarRecord is the Parquet schema for daily bar data. Prices stay in cents
// so an export round-trips bit-identically.
type BarRecord struct {
	Symbol        string `parquet:"symbol"`
	Day           int32  `parquet:"day,date"`
	Open          int64  `parquet:"open_cents"`
	High          int64  `parquet:"high_cents"`
	Low           int64  `parquet:"low_cents"`
	Close         int64  `parquet:"close_cents"`
	AdjustedClose *int64 `parquet:"adjusted_close_cents,optional"`
	Volume        int64  `parquet:"volume"`
}

func toRecord(b domain.PriceBar) BarRecord {
	r := BarRecord{
		Symbol: domain.NormalizeTicker(b.Ticker),
		Day:    int32(b.Day),
		Open:   int64(b.Open),
		High:   int64(b.High),
		Low:    int64(b.Low),
		Close:  int64(b.Close),
		Volume: b.Volume,
	}
	if b.AdjClose != nil {
		v := int64(*b.AdjClose)
		r.AdjustedClose = &v
	}
	return r
}

func (r BarRecord) toBar() domain.PriceBar {
	b := domain.PriceBar{
		Ticker: r.Symbol,
		Day:    domain.Day(r.Day),
		Open:   domain.Cents(r.Open),
		High:   domain.Cents(r.High),
		Low:    domain.Cents(r.Low),
		Close:  domain.Cents(r.Close),
		Volume: r.Volume,
	}
	if r.AdjustedClose != nil {
		c := domain.Cents(*r.AdjustedClose)
		b.AdjClose = &c
	}
	return b
}

// WriteBars writes bars to Parquet files organized by symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Bars already present in a file are kept; incoming duplicates are dropped.
func (s *ParquetStore) WriteBars(ctx context.Context, bars []domain.PriceBar) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		y, _ := b.Day.YearMonth()
		k := key{symbol: domain.NormalizeTicker(b.Ticker), year: y}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data for symbol within r.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, r domain.DateRange) ([]domain.PriceBar, error) {
	symbol = domain.NormalizeTicker(symbol)
	startYear, _ := r.Start.YearMonth()
	endYear, _ := r.End.YearMonth()

	var bars []domain.PriceBar
	for year := startYear; year <= endYear; year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, year))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}
		for _, rec := range records {
			if r.Contains(domain.Day(rec.Day)) {
				bars = append(bars, rec.toBar())
			}
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, s.market(), "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *ParquetStore) market() string {
	if s.Market == "" {
		return "us"
	}
	return s.Market
}

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, s.market(), "daily", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by (symbol, day). Existing rows win, matching
// the cache rule that a stored bar is never overwritten.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		day    int32
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Day}] = r
	}
	for _, r := range incoming {
		k := key{r.Symbol, r.Day}
		if _, ok := seen[k]; !ok {
			seen[k] = r
		}
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Day != merged[j].Day {
			return merged[i].Day < merged[j].Day
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}
