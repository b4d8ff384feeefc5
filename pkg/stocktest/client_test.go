package stocktest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}

	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %q", c.baseURL)
	}

	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestGetBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/bars/AAPL" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("start"); got != "2024-01-02" {
			t.Errorf("start = %q, want 2024-01-02", got)
		}
		json.NewEncoder(w).Encode(Bars{
			Ticker: "AAPL",
			Start:  "2024-01-02",
			End:    "2024-01-03",
			Bars:   []Bar{{Date: "2024-01-02", Close: 185.64, Volume: 1}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars, err := c.GetBars(context.Background(), "AAPL", start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetBars() returned error: %v", err)
	}
	if len(bars.Bars) != 1 || bars.Bars[0].Close != 185.64 {
		t.Errorf("GetBars() = %+v", bars)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorBody{Error: "unknown ticker NOPE"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).TickerCoverage(context.Background(), "NOPE")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "unknown ticker NOPE" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestWarmConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorBody{Error: "busy"})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Warm(context.Background()); !errors.Is(err, ErrWarmInProgress) {
		t.Errorf("Warm() error = %v, want ErrWarmInProgress", err)
	}
}
