package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stocktest/internal/domain"
	"stocktest/internal/util"
)

// DefaultPath is read when STOCKTEST_CONFIG is unset.
const DefaultPath = "config/stocktest.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stocktest.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Backtest BacktestConfig `yaml:"backtest"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Periods  []PeriodConfig `yaml:"time_periods"`
	Tickers  []string       `yaml:"tickers"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ParquetDir string `yaml:"parquet_dir"`
	ReportDir  string `yaml:"report_dir"`
	StateDir   string `yaml:"state_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FetchConfig bounds provider traffic.
type FetchConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MinSpacing     time.Duration `yaml:"min_spacing"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig is the per-call retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BacktestConfig holds defaults for backtest runs.
type BacktestConfig struct {
	InitialCapital     float64            `yaml:"initial_capital"`
	TransactionCostPct float64            `yaml:"transaction_cost_pct"`
	RebalanceFrequency string             `yaml:"rebalance_frequency"`
	Benchmark          string             `yaml:"benchmark"`
	RiskFreeRate       float64            `yaml:"risk_free_rate"`
	MaxConcurrency     int                `yaml:"max_concurrency"`
	Strategy           string             `yaml:"strategy"`
	Weights            map[string]float64 `yaml:"weights"`
}

// DaemonConfig configures stocktestd.
type DaemonConfig struct {
	Schedule string `yaml:"schedule"`
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// PeriodConfig is a named backtest window with YYYY-MM-DD bounds.
type PeriodConfig struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Default returns a Config with every default filled in and no periods or
// tickers.
func Default() *Config {
	return &Config{
		Storage: Storage{
			SQLitePath: "data/stocktest.db",
			ParquetDir: "data/parquet",
			ReportDir:  "reports",
			StateDir:   "data/state",
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Fetch: FetchConfig{
			MaxConcurrency: 5,
			MinSpacing:     250 * time.Millisecond,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    60 * time.Second,
			},
		},
		Backtest: BacktestConfig{
			InitialCapital:     10000,
			RebalanceFrequency: string(domain.FrequencyMonthly),
			Strategy:           "per-ticker",
		},
		Daemon: DaemonConfig{
			Schedule: "30 20 * * 1-5",
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromEnv loads an optional .env file, then the config named by
// STOCKTEST_CONFIG (DefaultPath when unset). An explicit path wins over both.
func LoadFromEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("STOCKTEST_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKTEST_DB"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("STOCKTEST_REPORT_DIR"); v != "" {
		cfg.Storage.ReportDir = v
	}
	if v := os.Getenv("STOCKTEST_PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STOCKTEST_FETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.MaxConcurrency = n
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the configuration and normalises tickers in place.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Periods) == 0 {
		errs = append(errs, errors.New("time_periods: at least one period is required"))
	}
	if _, err := c.TimePeriods(); err != nil {
		errs = append(errs, err)
	}

	c.Tickers = NormalizeTickers(c.Tickers)
	if len(c.Tickers) == 0 {
		errs = append(errs, errors.New("tickers: at least one ticker is required"))
	}

	if c.Fetch.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_concurrency must be positive, got %d", c.Fetch.MaxConcurrency))
	}
	if c.Fetch.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("fetch.retry.max_attempts must be positive, got %d", c.Fetch.Retry.MaxAttempts))
	}
	if c.Fetch.MinSpacing < 0 {
		errs = append(errs, errors.New("fetch.min_spacing must not be negative"))
	}
	if c.Backtest.MaxConcurrency < 0 {
		errs = append(errs, errors.New("backtest.max_concurrency must not be negative"))
	}
	if c.Backtest.InitialCapital <= 0 {
		errs = append(errs, errors.New("backtest.initial_capital must be positive"))
	}
	if c.Backtest.TransactionCostPct < 0 || c.Backtest.TransactionCostPct >= 1 {
		errs = append(errs, fmt.Errorf("backtest.transaction_cost_pct must be in [0, 1), got %g", c.Backtest.TransactionCostPct))
	}
	if _, err := domain.ParseFrequency(c.Backtest.RebalanceFrequency); err != nil {
		errs = append(errs, fmt.Errorf("backtest.rebalance_frequency: %w", err))
	}

	return errors.Join(errs...)
}

// NormalizeTickers upper-cases, trims, de-duplicates and sorts tickers.
func NormalizeTickers(in []string) []string {
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

// TimePeriods parses the configured periods.
func (c *Config) TimePeriods() ([]domain.Period, error) {
	out := make([]domain.Period, 0, len(c.Periods))
	for i, p := range c.Periods {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("time_periods[%d]: name is required", i)
		}
		start, err := domain.ParseDay(p.Start)
		if err != nil {
			return nil, fmt.Errorf("time_periods[%d] %s: start: %w", i, name, err)
		}
		end, err := domain.ParseDay(p.End)
		if err != nil {
			return nil, fmt.Errorf("time_periods[%d] %s: end: %w", i, name, err)
		}
		if start >= end {
			return nil, fmt.Errorf("time_periods[%d] %s: start %s is not before end %s", i, name, start, end)
		}
		out = append(out, domain.Period{Name: name, Start: start, End: end})
	}
	return out, nil
}

// Window returns the union of all periods: earliest start to latest end.
func (c *Config) Window() (domain.DateRange, error) {
	periods, err := c.TimePeriods()
	if err != nil {
		return domain.DateRange{}, err
	}
	if len(periods) == 0 {
		return domain.DateRange{}, errors.New("no time periods configured")
	}
	w := periods[0].Range()
	for _, p := range periods[1:] {
		if p.Start < w.Start {
			w.Start = p.Start
		}
		if p.End > w.End {
			w.End = p.End
		}
	}
	return w, nil
}

// Frequency returns the parsed rebalance frequency.
func (c *Config) Frequency() domain.Frequency {
	f, err := domain.ParseFrequency(c.Backtest.RebalanceFrequency)
	if err != nil {
		return domain.FrequencyMonthly
	}
	return f
}

// InitialCapital returns the starting capital in cents.
func (c *Config) InitialCapital() domain.Cents {
	return domain.ToCents(c.Backtest.InitialCapital)
}

// Backoff returns the configured retry policy.
func (c *Config) Backoff() util.Backoff {
	b := util.DefaultBackoff()
	if c.Fetch.Retry.MaxAttempts > 0 {
		b.MaxAttempts = c.Fetch.Retry.MaxAttempts
	}
	if c.Fetch.Retry.BaseDelay > 0 {
		b.BaseDelay = c.Fetch.Retry.BaseDelay
	}
	if c.Fetch.Retry.MaxDelay > 0 {
		b.MaxDelay = c.Fetch.Retry.MaxDelay
	}
	return b
}
