package stocktest

import "time"

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
}

// Coverage describes what the daemon has cached for one security.
type Coverage struct {
	Ticker       string    `json:"ticker"`
	Name         string    `json:"name,omitempty"`
	AssetType    string    `json:"asset_type,omitempty"`
	Earliest     string    `json:"earliest,omitempty"`
	Latest       string    `json:"latest,omitempty"`
	TotalRecords int       `json:"total_records"`
	LastFetch    time.Time `json:"last_fetch,omitempty"`
}

// Bar is one cached daily bar. Prices are in dollars.
type Bar struct {
	Date     string   `json:"date"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	AdjClose *float64 `json:"adj_close,omitempty"`
	Volume   int64    `json:"volume"`
}

// Bars is the body of GET /api/v1/bars/{ticker}.
type Bars struct {
	Ticker string `json:"ticker"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Bars   []Bar  `json:"bars"`
}

// WarmStatus reports the most recent cache warm-up pass.
type WarmStatus struct {
	Day      string    `json:"day"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Tickers  int       `json:"tickers"`
	Failed   int       `json:"failed"`
	Skipped  bool      `json:"skipped"`
	Error    string    `json:"error,omitempty"`
}

// ErrorBody is returned with every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}
