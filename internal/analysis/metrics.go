// Package analysis computes performance metrics from backtest equity curves.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"stocktest/internal/backtest"
	"stocktest/internal/domain"
)

const (
	tradingDaysPerYear = 252
	daysPerYear        = 365.25
	minDataPoints      = 2
)

// Metrics summarises one equity curve. Returns are decimals (0.5 = 50%).
type Metrics struct {
	TotalReturn float64 `msgpack:"total_return"`
	CAGR        float64 `msgpack:"cagr"`
	Sharpe      float64 `msgpack:"sharpe"`
	MaxDrawdown float64 `msgpack:"max_drawdown"`
	Volatility  float64 `msgpack:"volatility"`

	HasBenchmark    bool    `msgpack:"has_benchmark"`
	Beta            float64 `msgpack:"beta"`
	Alpha           float64 `msgpack:"alpha"`
	BenchmarkReturn float64 `msgpack:"benchmark_return"`
}

// Summarize computes every metric for curve. bench may be nil.
func Summarize(curve, bench []backtest.EquityPoint, riskFree float64) Metrics {
	values := Values(curve)
	m := Metrics{
		TotalReturn: TotalReturn(values),
		CAGR:        CAGR(curve),
		Sharpe:      Sharpe(values, riskFree),
		MaxDrawdown: MaxDrawdown(values),
		Volatility:  Volatility(values),
	}
	if len(bench) > 0 {
		m.HasBenchmark = true
		m.Beta = Beta(curve, bench)
		m.Alpha = Alpha(curve, bench, riskFree)
		m.BenchmarkReturn = TotalReturn(Values(bench))
	}
	return m
}

// Values extracts dollar values from a curve.
func Values(curve []backtest.EquityPoint) []float64 {
	out := make([]float64, len(curve))
	for i, p := range curve {
		out[i] = p.Value.Dollars()
	}
	return out
}

// Returns converts values to simple period returns. Steps from a zero value
// are skipped.
func Returns(values []float64) []float64 {
	if len(values) < minDataPoints {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}

// TotalReturn is final/initial - 1.
func TotalReturn(values []float64) float64 {
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	return (values[len(values)-1] - values[0]) / values[0]
}

// CAGR annualises the total return over calendar time.
func CAGR(curve []backtest.EquityPoint) float64 {
	if len(curve) < minDataPoints {
		return 0
	}
	first, last := curve[0], curve[len(curve)-1]
	if first.Value <= 0 || last.Value <= 0 {
		return 0
	}
	years := float64(last.Day-first.Day) / daysPerYear
	if years <= 0 {
		return 0
	}
	return math.Pow(last.Value.Dollars()/first.Value.Dollars(), 1/years) - 1
}

func dailyRiskFree(annual float64) float64 {
	return math.Pow(1+annual, 1.0/tradingDaysPerYear) - 1
}

// Sharpe is the annualised Sharpe ratio of daily returns.
func Sharpe(values []float64, riskFree float64) float64 {
	r := Returns(values)
	if len(r) < minDataPoints {
		return 0
	}
	sd := stat.StdDev(r, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return (stat.Mean(r, nil) - dailyRiskFree(riskFree)) / sd * math.Sqrt(tradingDaysPerYear)
}

// Volatility is the annualised standard deviation of daily returns.
func Volatility(values []float64) float64 {
	r := Returns(values)
	if len(r) < minDataPoints {
		return 0
	}
	return stat.StdDev(r, nil) * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the largest peak-to-trough decline as a positive decimal.
func MaxDrawdown(values []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// aligned returns the returns of both curves over their common days.
func aligned(curve, bench []backtest.EquityPoint) (pr, br []float64) {
	bv := make(map[domain.Day]float64, len(bench))
	for _, p := range bench {
		bv[p.Day] = p.Value.Dollars()
	}
	var pv, bvs []float64
	for _, p := range curve {
		if b, ok := bv[p.Day]; ok {
			pv = append(pv, p.Value.Dollars())
			bvs = append(bvs, b)
		}
	}
	if len(pv) < minDataPoints {
		return nil, nil
	}
	for i := 1; i < len(pv); i++ {
		if pv[i-1] == 0 || bvs[i-1] == 0 {
			continue
		}
		pr = append(pr, (pv[i]-pv[i-1])/pv[i-1])
		br = append(br, (bvs[i]-bvs[i-1])/bvs[i-1])
	}
	return pr, br
}

// Beta is cov(portfolio, benchmark) / var(benchmark) over aligned days.
func Beta(curve, bench []backtest.EquityPoint) float64 {
	pr, br := aligned(curve, bench)
	if len(pr) < minDataPoints {
		return 0
	}
	v := stat.Variance(br, nil)
	if v == 0 || math.IsNaN(v) {
		return 0
	}
	return stat.Covariance(pr, br, nil) / v
}

// Alpha is the annualised CAPM excess return over the benchmark.
func Alpha(curve, bench []backtest.EquityPoint, riskFree float64) float64 {
	pr, br := aligned(curve, bench)
	if len(pr) < minDataPoints {
		return 0
	}
	rf := dailyRiskFree(riskFree)
	beta := Beta(curve, bench)
	daily := stat.Mean(pr, nil) - (rf + beta*(stat.Mean(br, nil)-rf))
	return daily * tradingDaysPerYear
}
