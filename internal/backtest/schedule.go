package backtest

import (
	"fmt"

	"stocktest/internal/domain"
)

// RebalanceDays selects rebalance days from an ascending trading-day index:
// every day for daily, the first day of each ISO week for weekly, the first
// day of each calendar month for monthly.
func RebalanceDays(index []domain.Day, freq domain.Frequency) ([]domain.Day, error) {
	var key func(domain.Day) [2]int
	switch freq {
	case domain.FrequencyDaily:
		out := make([]domain.Day, len(index))
		copy(out, index)
		return out, nil
	case domain.FrequencyWeekly:
		key = func(d domain.Day) [2]int {
			y, w := d.ISOWeek()
			return [2]int{y, w}
		}
	case domain.FrequencyMonthly:
		key = func(d domain.Day) [2]int {
			y, m := d.YearMonth()
			return [2]int{y, int(m)}
		}
	default:
		return nil, fmt.Errorf("unknown rebalance frequency %q", freq)
	}

	var (
		out  []domain.Day
		last [2]int
	)
	for i, d := range index {
		k := key(d)
		if i == 0 || k != last {
			out = append(out, d)
			last = k
		}
	}
	return out, nil
}
