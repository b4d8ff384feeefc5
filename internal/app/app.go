// Package app wires configuration, storage, the provider client and the
// backtest stack into one object shared by the stocktest binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"stocktest/internal/backtest"
	"stocktest/internal/cache"
	"stocktest/internal/config"
	"stocktest/internal/domain"
	"stocktest/internal/gather"
	"stocktest/internal/gather/us"
	"stocktest/internal/report"
	"stocktest/internal/store"
	"stocktest/internal/strategy"
	"stocktest/internal/strategy/builtins"
	"stocktest/internal/util"
)

// App holds the long-lived components.
type App struct {
	Config     *config.Config
	Store      *store.SQLiteStore
	Client     *gather.RetryingClient
	Retriever  *cache.Retriever
	Fetcher    *gather.Orchestrator
	Engine     *backtest.Engine
	Strategies *strategy.Registry
	log        *slog.Logger
}

// NewAlpacaProvider builds the market-data provider from cfg.
func NewAlpacaProvider(cfg *config.Config) *us.AlpacaProvider {
	return us.NewAlpacaProvider(us.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.BaseURL,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
	})
}

// New opens the store and builds every component over provider.
func New(cfg *config.Config, provider gather.Provider, opts ...cache.Option) (*App, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	client := gather.NewRetryingClient(provider, cfg.Backoff(), util.NewPacer(cfg.Fetch.MinSpacing))
	opts = append([]cache.Option{cache.WithMetadata(client)}, opts...)
	retriever := cache.NewRetriever(st, client, opts...)

	return &App{
		Config:     cfg,
		Store:      st,
		Client:     client,
		Retriever:  retriever,
		Fetcher:    gather.NewOrchestrator(retriever, cfg.Fetch.MaxConcurrency),
		Engine:     backtest.NewEngine(retriever.Cached()),
		Strategies: builtins.NewRegistry(),
		log:        slog.Default().With("component", "app"),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// Backtester returns a two-phase backtester over the app's components.
func (a *App) Backtester() *strategy.Backtester {
	return strategy.NewBacktester(a.Strategies, a.Fetcher, a.Engine, a.Config.Backtest.MaxConcurrency)
}

// BaseConfig is the backtest template built from configuration.
func (a *App) BaseConfig() backtest.Config {
	return backtest.Config{
		InitialCapital: a.Config.InitialCapital(),
		CostPct:        a.Config.Backtest.TransactionCostPct,
		Frequency:      a.Config.Frequency(),
		Benchmark:      domain.NormalizeTicker(a.Config.Backtest.Benchmark),
	}
}

// PeriodReport pairs a finished period with where its report went.
type PeriodReport struct {
	Run       *strategy.PeriodRun
	ReportDir string
	Entries   []report.Entry
	ReportErr error
}

// RunPeriods runs strategyName over each period in turn and writes a report
// per period. The returned error is reserved for failures that stop the
// whole batch: unknown strategy, invalid input, storage, or cancellation.
func (a *App) RunPeriods(ctx context.Context, strategyName string, periods []domain.Period, tickers []string, weights map[string]float64, base backtest.Config) ([]PeriodReport, error) {
	bt := a.Backtester()
	var out []PeriodReport
	for _, p := range periods {
		run, err := bt.Run(ctx, strategyName, strategy.Input{
			Period:  p,
			Tickers: tickers,
			Weights: weights,
			Base:    base,
		})
		if err != nil {
			return out, err
		}

		pr := PeriodReport{Run: run, Entries: Entries(run, a.Config.Backtest.RiskFreeRate)}
		if len(pr.Entries) > 0 {
			w, err := report.NewWriter(a.Config.Storage.ReportDir, p.Name)
			if err != nil {
				pr.ReportErr = err
			} else {
				pr.ReportDir = w.Dir
				pr.ReportErr = w.WriteAll(pr.Entries)
			}
		}
		if pr.ReportErr != nil {
			a.log.Warn("report incomplete", "period", p.Name, "error", pr.ReportErr)
		}
		out = append(out, pr)
	}
	return out, nil
}

// Entries converts the successful combinations of run into report entries,
// ordered by key.
func Entries(run *strategy.PeriodRun, riskFree float64) []report.Entry {
	keys := make([]string, 0, len(run.Results))
	for k, mr := range run.Results {
		if mr.Err == nil && mr.Result != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]report.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, report.NewEntry(k, run.Results[k].Result, riskFree))
	}
	return out
}

// ExportCache mirrors every cached bar into the Parquet archive under dir.
func (a *App) ExportCache(ctx context.Context, dir string) (symbols, bars int, err error) {
	pq := store.NewParquetStore(dir)
	secs, err := a.Store.ListSecurities(ctx)
	if err != nil {
		return 0, 0, err
	}
	var errs []error
	for _, sec := range secs {
		cov, ok, err := a.Store.Coverage(ctx, sec.Ticker)
		if err != nil {
			return symbols, bars, err
		}
		if !ok || cov.TotalRecords == 0 {
			continue
		}
		b, err := a.Store.ReadBars(ctx, sec.Ticker, domain.DateRange{Start: cov.EarliestDay, End: cov.LatestDay})
		if err != nil {
			return symbols, bars, err
		}
		if err := pq.WriteBars(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sec.Ticker, err))
			continue
		}
		symbols++
		bars += len(b)
	}
	a.log.Info("cache exported", "dir", dir, "symbols", symbols, "bars", bars)
	return symbols, bars, errors.Join(errs...)
}
