package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/semaphore"
)

// Runner runs one backtest. *Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg Config) (*Result, error)
}

// Combination is one cell of the backtest matrix.
type Combination struct {
	Key    string // unique within a batch, e.g. "2020-2023/AAPL"
	Period string
	Config Config
}

// MatrixResult is the outcome of one combination.
type MatrixResult struct {
	Combination Combination
	Result      *Result
	Err         error
	Elapsed     time.Duration
}

// DefaultConcurrency returns the number of logical CPUs.
func DefaultConcurrency() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// RunMatrix runs every combination with at most maxConcurrency in flight
// (DefaultConcurrency when non-positive). Each combination's failure, panics
// included, is recorded against its key and never affects the others. Once
// ctx is done no new runs start; unstarted combinations carry ctx's error.
func RunMatrix(ctx context.Context, r Runner, combos []Combination, maxConcurrency int) map[string]MatrixResult {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency()
	}
	log := slog.Default().With("component", "backtest-matrix")

	results := make(map[string]MatrixResult, len(combos))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = semaphore.NewWeighted(int64(maxConcurrency))
		runStart = time.Now()
	)
	record := func(mr MatrixResult) {
		mu.Lock()
		results[mr.Combination.Key] = mr
		mu.Unlock()
	}

	log.Info("backtest batch starting", "combinations", len(combos), "concurrency", maxConcurrency)

	for i, c := range combos {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, rest := range combos[i:] {
				record(MatrixResult{Combination: rest, Err: err})
			}
			break
		}

		wg.Add(1)
		go func(c Combination) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			res, err := runIsolated(ctx, r, c.Config)
			mr := MatrixResult{Combination: c, Result: res, Err: err, Elapsed: time.Since(start)}
			record(mr)

			if err != nil {
				log.Warn("backtest failed", "key", c.Key, "error", err)
				return
			}
			log.Info("backtest done", "key", c.Key, "trades", len(res.Trades), "points", len(res.Equity), "elapsed", mr.Elapsed.Round(time.Millisecond))
		}(c)
	}
	wg.Wait()

	failed := 0
	for _, mr := range results {
		if mr.Err != nil {
			failed++
		}
	}
	log.Info("backtest batch done", "combinations", len(combos), "failed", failed, "elapsed", time.Since(runStart).Round(time.Millisecond))
	return results
}

func runIsolated(ctx context.Context, r Runner, cfg Config) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("backtest panicked: %v", p)
		}
	}()
	return r.Run(ctx, cfg)
}
