// Package backtest simulates periodic rebalancing of a weighted portfolio
// over cached daily closes and runs many such simulations concurrently.
package backtest

import (
	"sort"

	"github.com/shopspring/decimal"

	"stocktest/internal/domain"
)

var (
	// minTradeValue is the smallest trade, in dollars, that is executed.
	minTradeValue = decimal.New(1, -2)
	hundred       = decimal.NewFromInt(100)
)

// Trade is one executed rebalance order. Shares is signed: positive buys.
type Trade struct {
	Day    domain.Day
	Ticker string
	Shares decimal.Decimal
	Price  domain.Cents
	Value  decimal.Decimal // signed dollar amount traded
	Cost   decimal.Decimal // transaction cost in dollars
}

// EquityPoint is the portfolio value at one day's close.
type EquityPoint struct {
	Day   domain.Day
	Value domain.Cents
	Cash  domain.Cents
}

// Snapshot is the portfolio state after the last valuation.
type Snapshot struct {
	Cash      decimal.Decimal
	Positions map[string]decimal.Decimal
	Value     domain.Cents
}

// Portfolio tracks cash and fractional share positions. Money is held in
// decimal dollars so repeated rebalancing never accumulates float drift.
type Portfolio struct {
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
	costPct   decimal.Decimal
	trades    []Trade
}

// NewPortfolio starts a portfolio with all capital in cash. costPct is a
// fraction of traded value (0.001 = 0.1%).
func NewPortfolio(capital domain.Cents, costPct float64) *Portfolio {
	return &Portfolio{
		cash:      centsToDecimal(capital),
		positions: make(map[string]decimal.Decimal),
		costPct:   decimal.NewFromFloat(costPct),
	}
}

func centsToDecimal(c domain.Cents) decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func decimalToCents(d decimal.Decimal) domain.Cents {
	return domain.Cents(d.Mul(hundred).Round(0).IntPart())
}

// Trades returns the trade log in execution order.
func (p *Portfolio) Trades() []Trade { return p.trades }

// Value returns cash plus positions marked at prices. Positions without a
// price contribute nothing.
func (p *Portfolio) Value(prices map[string]domain.Cents) decimal.Decimal {
	total := p.cash
	for _, t := range sortedKeys(p.positions) {
		px, ok := prices[t]
		if !ok {
			continue
		}
		total = total.Add(p.positions[t].Mul(centsToDecimal(px)))
	}
	return total
}

// Rebalance trades every weighted ticker with a price toward its target
// share of the current total value. Tickers are processed in name order so
// identical inputs always produce identical logs.
func (p *Portfolio) Rebalance(day domain.Day, weights map[string]float64, prices map[string]domain.Cents) {
	total := p.Value(prices)

	for _, ticker := range sortedKeys(weights) {
		px, ok := prices[ticker]
		if !ok || px <= 0 {
			continue
		}
		price := centsToDecimal(px)
		target := total.Mul(decimal.NewFromFloat(weights[ticker]))
		current := p.positions[ticker].Mul(price)
		tradeValue := target.Sub(current)
		if tradeValue.Abs().LessThan(minTradeValue) {
			continue
		}

		cost := tradeValue.Abs().Mul(p.costPct)
		shares := tradeValue.Div(price)

		p.positions[ticker] = p.positions[ticker].Add(shares)
		p.cash = p.cash.Sub(tradeValue).Sub(cost)
		p.trades = append(p.trades, Trade{
			Day:    day,
			Ticker: ticker,
			Shares: shares,
			Price:  px,
			Value:  tradeValue,
			Cost:   cost,
		})
	}
}

// Mark values the portfolio at prices.
func (p *Portfolio) Mark(day domain.Day, prices map[string]domain.Cents) EquityPoint {
	return EquityPoint{
		Day:   day,
		Value: decimalToCents(p.Value(prices)),
		Cash:  decimalToCents(p.cash),
	}
}

// Snapshot copies the current state.
func (p *Portfolio) Snapshot(prices map[string]domain.Cents) Snapshot {
	pos := make(map[string]decimal.Decimal, len(p.positions))
	for t, s := range p.positions {
		pos[t] = s
	}
	return Snapshot{Cash: p.cash, Positions: pos, Value: decimalToCents(p.Value(prices))}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
