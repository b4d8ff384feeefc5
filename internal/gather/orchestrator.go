package gather

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
)

// DefaultFetchConcurrency is the fetch pool size when none is configured.
const DefaultFetchConcurrency = 5

// ItemResult is the outcome of retrieving one security.
type ItemResult struct {
	Ticker string
	Result cache.Result
	// Err is set when retrieval failed outright or produced no usable bars.
	Err error
}

// OK reports whether the item has bars to work with.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// Orchestrator runs cache-first retrieval for many securities under a
// concurrency cap.
type Orchestrator struct {
	retriever      *cache.Retriever
	maxConcurrency int
	log            *slog.Logger
}

// NewOrchestrator creates an Orchestrator admitting at most maxConcurrency
// retrievals at a time. Non-positive values use DefaultFetchConcurrency.
func NewOrchestrator(r *cache.Retriever, maxConcurrency int) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultFetchConcurrency
	}
	return &Orchestrator{
		retriever:      r,
		maxConcurrency: maxConcurrency,
		log:            slog.Default().With("component", "fetch"),
	}
}

// FetchAll retrieves window for every ticker. The returned map holds one
// entry per distinct normalised ticker. A failure is recorded against its
// ticker only. Once ctx is done, or a storage error is seen, no new
// retrievals start and the remaining tickers are recorded with that cause;
// the returned error is then non-nil.
func (o *Orchestrator) FetchAll(ctx context.Context, tickers []string, window domain.DateRange) (map[string]ItemResult, error) {
	tickers = uniqueTickers(tickers)
	results := make(map[string]ItemResult, len(tickers))
	if len(tickers) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = semaphore.NewWeighted(int64(o.maxConcurrency))
		runStart = time.Now()
	)
	record := func(r ItemResult) {
		mu.Lock()
		results[r.Ticker] = r
		mu.Unlock()
	}

	o.log.Info("fetch batch starting", "tickers", len(tickers), "window", window.String(), "concurrency", o.maxConcurrency)

	for i, ticker := range tickers {
		if err := sem.Acquire(ctx, 1); err != nil {
			cause := context.Cause(ctx)
			for _, t := range tickers[i:] {
				record(ItemResult{Ticker: t, Err: cause})
			}
			break
		}

		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := o.retriever.GetPrices(ctx, ticker, window)
			item := ItemResult{Ticker: ticker, Result: res, Err: err}
			if err == nil {
				item.Err = res.Err()
			}
			if errors.Is(err, domain.ErrStorage) {
				cancel(err)
			}
			record(item)

			o.log.Info("fetch done",
				"ticker", ticker,
				"outcome", res.Outcome.String(),
				"bars", len(res.Bars),
				"provider_calls", res.ProviderCalls,
				"failed_ranges", len(res.Failures),
				"error", item.Err,
			)
		}(ticker)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	o.log.Info("fetch batch done",
		"tickers", len(tickers),
		"failed", failed,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	if ctx.Err() != nil {
		return results, context.Cause(ctx)
	}
	return results, nil
}

func uniqueTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = domain.NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
