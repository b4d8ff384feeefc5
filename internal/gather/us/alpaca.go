// Package us provides the Alpaca market-data provider for US equities.
package us

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/gather"
)

// Compile-time interface checks.
var (
	_ gather.Provider      = (*AlpacaProvider)(nil)
	_ gather.AssetProvider = (*AlpacaProvider)(nil)
)

// noSDKRetries stops the SDK after its first request; zero would select
// its default budget.
const noSDKRetries = -1

// AlpacaConfig holds credentials and endpoints.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API, used for asset lookup
	DataURL   string // market-data API
	Feed      string // "sip" or "iex"
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API. Each call is exactly one request; retries are the
// caller's job.
type AlpacaProvider struct {
	data    *marketdata.Client
	trading *alpaca.Client
	feed    marketdata.Feed
}

// NewAlpacaProvider creates an AlpacaProvider with the SDK's own retry loop
// turned off.
func NewAlpacaProvider(cfg AlpacaConfig) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		RetryLimit: noSDKRetries,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "sip"
	}

	return &AlpacaProvider{
		data: marketdata.NewClient(opts),
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			BaseURL:    cfg.BaseURL,
			RetryLimit: noSDKRetries,
		}),
		feed: marketdata.Feed(feed),
	}
}

// FetchBars returns the daily bars of ticker within r. Adjusted close
// mirrors close because the bars are already adjusted.
func (p *AlpacaProvider) FetchBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.RawBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars, err := p.data.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      r.Start.Time(),
		// End is an inclusive timestamp; daily bars are stamped at the
		// session date's midnight in New York.
		End:  r.End.Time().Add(24*time.Hour - time.Second),
		Feed: p.feed,
	})
	if err != nil {
		return nil, classify(ticker, fmt.Errorf("GetBars %s %s: %w", ticker, r, err))
	}

	out := make([]domain.RawBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.RawBar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			AdjClose:  b.Close,
			Volume:    b.Volume,
		})
	}
	return out, nil
}

// Asset looks up the display name and asset class of ticker.
func (p *AlpacaProvider) Asset(ctx context.Context, ticker string) (cache.SecurityInfo, error) {
	if err := ctx.Err(); err != nil {
		return cache.SecurityInfo{}, err
	}
	asset, err := p.trading.GetAsset(ticker)
	if err != nil {
		return cache.SecurityInfo{}, classify(ticker, fmt.Errorf("GetAsset %s: %w", ticker, err))
	}
	return cache.SecurityInfo{Name: asset.Name, AssetType: string(asset.Class)}, nil
}

// classify wraps err as a *domain.ProviderError, marking rate limits,
// server errors and network timeouts as transient.
func classify(ticker string, err error) error {
	return &domain.ProviderError{Ticker: ticker, Transient: isTransient(err), Cause: err}
}

func isTransient(err error) bool {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "rate limit", "too many requests", "timeout", "connection reset", "eof", "502", "503", "504"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
