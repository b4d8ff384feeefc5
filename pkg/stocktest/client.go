// Package stocktest is a Go client for the stocktestd HTTP API.
package stocktest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrWarmInProgress is returned by Warm when the daemon is already warming.
var ErrWarmInProgress = errors.New("warm-up already in progress")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stocktestd: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the stocktestd API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new stocktestd API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health calls GET /healthz.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Coverage lists cache coverage for every known security.
func (c *Client) Coverage(ctx context.Context) ([]Coverage, error) {
	var out []Coverage
	if err := c.do(ctx, http.MethodGet, "/api/v1/coverage", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TickerCoverage returns cache coverage for one ticker.
func (c *Client) TickerCoverage(ctx context.Context, ticker string) (*Coverage, error) {
	var out Coverage
	if err := c.do(ctx, http.MethodGet, "/api/v1/coverage/"+url.PathEscape(ticker), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBars retrieves cached daily bars for ticker between start and end
// inclusive. Only the calendar date of start and end is used.
func (c *Client) GetBars(ctx context.Context, ticker string, start, end time.Time) (*Bars, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.DateOnly))
	q.Set("end", end.Format(time.DateOnly))
	var out Bars
	if err := c.do(ctx, http.MethodGet, "/api/v1/bars/"+url.PathEscape(ticker)+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WarmStatus reports the last warm-up pass.
func (c *Client) WarmStatus(ctx context.Context) (*WarmStatus, error) {
	var out WarmStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/warm", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Warm asks the daemon to start a warm-up pass.
func (c *Client) Warm(ctx context.Context) (*WarmStatus, error) {
	var out WarmStatus
	err := c.do(ctx, http.MethodPost, "/api/v1/warm", &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return nil, ErrWarmInProgress
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var eb ErrorBody
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
