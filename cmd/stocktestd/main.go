package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"stocktest/internal/api"
	"stocktest/internal/app"
	"stocktest/internal/config"
	"stocktest/internal/gather"
	"stocktest/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $STOCKTEST_CONFIG or "+config.DefaultPath+")")
	warmOnStart := flag.Bool("warm-on-start", true, "run a warm-up pass at startup")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	window, err := cfg.Window()
	if err != nil {
		log.Fatalf("invalid periods: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	grpcSrv := api.NewGRPCServer()

	a, err := app.New(cfg, app.NewAlpacaProvider(cfg))
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer a.Close()
	grpcSrv.SetServing(true)

	warm := gather.NewWarmJob(a.Fetcher, cfg.Tickers, window, cfg.Storage.StateDir)

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Daemon.Schedule, func() { runWarm(ctx, warm) }); err != nil {
		log.Fatalf("invalid daemon.schedule %q: %v", cfg.Daemon.Schedule, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	slog.Info("starting stocktestd",
		"tickers", len(cfg.Tickers),
		"window", window.String(),
		"schedule", cfg.Daemon.Schedule,
		"http", cfg.Daemon.HTTPAddr,
		"grpc", cfg.Daemon.GRPCAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.NewServer(a.Store, warm).ListenAndServe(gctx, cfg.Daemon.HTTPAddr)
	})
	g.Go(func() error {
		return grpcSrv.Serve(gctx, cfg.Daemon.GRPCAddr)
	})
	if *warmOnStart {
		g.Go(func() error {
			runWarm(gctx, warm)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("daemon stopped", "error", err)
		return
	}
	slog.Info("daemon stopped")
}

func runWarm(ctx context.Context, warm *gather.WarmJob) {
	err := warm.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, gather.ErrWarmInProgress):
		slog.Info("warm-up skipped, previous pass still running")
	case ctx.Err() != nil:
	default:
		slog.Warn("warm-up pass failed", "error", err)
	}
}
