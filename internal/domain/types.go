// Package domain defines the core value types shared by the price cache,
// the fetch layer, and the backtest engine.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Day
// ---------------------------------------------------------------------------

// Day is a calendar date stored as whole days since 1970-01-01 UTC. Using an
// integer key keeps bars free of timezone ambiguity.
type Day int32

const dayLayout = "2006-01-02"

// DayOf returns the Day of t's calendar date in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day(u.Unix() / 86400)
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parsing day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for literals; it panics on malformed input.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Time returns midnight UTC of d.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

// String renders d as YYYY-MM-DD.
func (d Day) String() string {
	return d.Time().Format(dayLayout)
}

// AddDays returns d shifted by n days.
func (d Day) AddDays(n int) Day {
	return d + Day(n)
}

// Weekday returns the day of the week of d.
func (d Day) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// ISOWeek returns the ISO 8601 year and week number of d.
func (d Day) ISOWeek() (year, week int) {
	return d.Time().ISOWeek()
}

// YearMonth returns the calendar year and month of d.
func (d Day) YearMonth() (int, time.Month) {
	t := d.Time()
	return t.Year(), t.Month()
}

// DateRange is an inclusive range of days.
type DateRange struct {
	Start Day
	End   Day
}

// NewDateRange builds an inclusive range, failing when start is after end.
func NewDateRange(start, end Day) (DateRange, error) {
	if start > end {
		return DateRange{}, fmt.Errorf("invalid range: start %s after end %s", start, end)
	}
	return DateRange{Start: start, End: end}, nil
}

// Days returns the number of days covered by r.
func (r DateRange) Days() int {
	if r.End < r.Start {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// Contains reports whether d falls inside r.
func (r DateRange) Contains(d Day) bool {
	return d >= r.Start && d <= r.End
}

// Overlaps reports whether r and o share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Clamp returns the intersection of r and o. ok is false when they are
// disjoint.
func (r DateRange) Clamp(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	out := r
	if o.Start > out.Start {
		out.Start = o.Start
	}
	if o.End < out.End {
		out.End = o.End
	}
	return out, true
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// ---------------------------------------------------------------------------
// Money
// ---------------------------------------------------------------------------

// Cents is a monetary amount in integer minor units.
type Cents int64

// ToCents converts a dollar amount to cents, rounding half away from zero.
func ToCents(dollars float64) Cents {
	return Cents(math.Round(dollars * 100))
}

// Dollars returns c as a float dollar amount. Use only at output boundaries.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ---------------------------------------------------------------------------
// Securities and bars
// ---------------------------------------------------------------------------

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Security identifies an instrument by its normalised ticker.
type Security struct {
	Ticker    string
	Name      string
	AssetType string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PriceBar is one daily OHLCV bar. Monetary fields are in cents.
type PriceBar struct {
	Ticker   string
	Day      Day
	Open     Cents
	High     Cents
	Low      Cents
	Close    Cents
	AdjClose *Cents
	Volume   int64
}

// RawBar is a bar as returned by a market-data provider, before conversion
// to the cached representation.
type RawBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	AdjClose  float64
	Volume    uint64
}

// ToPriceBar converts a provider bar into a cached bar for ticker.
func (r RawBar) ToPriceBar(ticker string) PriceBar {
	b := PriceBar{
		Ticker: ticker,
		Day:    DayOf(r.Timestamp.UTC()),
		Open:   ToCents(r.Open),
		High:   ToCents(r.High),
		Low:    ToCents(r.Low),
		Close:  ToCents(r.Close),
		Volume: int64(r.Volume),
	}
	if r.AdjClose != 0 {
		adj := ToCents(r.AdjClose)
		b.AdjClose = &adj
	}
	return b
}

// CacheCoverage summarises what is cached for one security. It is a hint;
// gap resolution always consults the stored bars.
type CacheCoverage struct {
	Ticker       string
	LastFetch    time.Time
	EarliestDay  Day
	LatestDay    Day
	TotalRecords int
}

// NoDataRange is a range the provider confirmed to hold no bars.
type NoDataRange struct {
	Ticker      string
	Range       DateRange
	LastChecked time.Time
}

// ---------------------------------------------------------------------------
// Backtest inputs
// ---------------------------------------------------------------------------

// Period is a named backtest window.
type Period struct {
	Name  string
	Start Day
	End   Day
}

// Range returns the period as a DateRange.
func (p Period) Range() DateRange {
	return DateRange{Start: p.Start, End: p.End}
}

// Frequency controls how often a portfolio is rebalanced.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency validates a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown rebalance frequency %q", s)
	}
}
