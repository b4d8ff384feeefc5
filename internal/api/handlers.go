package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stocktest/internal/domain"
	"stocktest/internal/gather"
	"stocktest/pkg/stocktest"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stocktest.Health{Status: "ok"})
}

// handleCoverageList returns coverage for every known security.
func (s *Server) handleCoverageList(w http.ResponseWriter, r *http.Request) {
	secs, err := s.store.ListSecurities(r.Context())
	if err != nil {
		s.internalError(w, "listing securities", err)
		return
	}
	out := make([]stocktest.Coverage, 0, len(secs))
	for _, sec := range secs {
		cov, _, err := s.store.Coverage(r.Context(), sec.Ticker)
		if err != nil {
			s.internalError(w, "reading coverage", err)
			return
		}
		out = append(out, toCoverage(sec, cov))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	ticker := domain.NormalizeTicker(chi.URLParam(r, "ticker"))
	sec, ok, err := s.store.GetSecurity(r.Context(), ticker)
	if err != nil {
		s.internalError(w, "reading security", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown ticker "+ticker)
		return
	}
	cov, _, err := s.store.Coverage(r.Context(), ticker)
	if err != nil {
		s.internalError(w, "reading coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, toCoverage(sec, cov))
}

// handleBars serves cached bars only; it never calls the provider.
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	ticker := domain.NormalizeTicker(chi.URLParam(r, "ticker"))
	q := r.URL.Query()
	start, err := domain.ParseDay(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := domain.ParseDay(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	window, err := domain.NewDateRange(start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := s.store.ReadBars(r.Context(), ticker, window)
	if err != nil {
		s.internalError(w, "reading bars", err)
		return
	}
	resp := stocktest.Bars{
		Ticker: ticker,
		Start:  start.String(),
		End:    end.String(),
		Bars:   make([]stocktest.Bar, 0, len(bars)),
	}
	for _, b := range bars {
		resp.Bars = append(resp.Bars, toBar(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWarmStatus(w http.ResponseWriter, _ *http.Request) {
	if s.warm == nil {
		writeError(w, http.StatusNotFound, "warm-up not configured")
		return
	}
	writeJSON(w, http.StatusOK, toWarmStatus(s.warm.Status()))
}

// handleWarm starts a warm-up pass in the background.
func (s *Server) handleWarm(w http.ResponseWriter, _ *http.Request) {
	if s.warm == nil {
		writeError(w, http.StatusNotFound, "warm-up not configured")
		return
	}
	if err := s.warm.Start(s.baseCtx); err != nil {
		if errors.Is(err, gather.ErrWarmInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, "starting warm-up", err)
		return
	}
	s.log.Info("warm-up triggered")
	writeJSON(w, http.StatusAccepted, toWarmStatus(s.warm.Status()))
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

func toCoverage(sec domain.Security, cov domain.CacheCoverage) stocktest.Coverage {
	c := stocktest.Coverage{
		Ticker:       sec.Ticker,
		Name:         sec.Name,
		AssetType:    sec.AssetType,
		TotalRecords: cov.TotalRecords,
		LastFetch:    cov.LastFetch,
	}
	if cov.TotalRecords > 0 {
		c.Earliest = cov.EarliestDay.String()
		c.Latest = cov.LatestDay.String()
	}
	return c
}

func toBar(b domain.PriceBar) stocktest.Bar {
	out := stocktest.Bar{
		Date:   b.Day.String(),
		Open:   b.Open.Dollars(),
		High:   b.High.Dollars(),
		Low:    b.Low.Dollars(),
		Close:  b.Close.Dollars(),
		Volume: b.Volume,
	}
	if b.AdjClose != nil {
		v := b.AdjClose.Dollars()
		out.AdjClose = &v
	}
	return out
}

func toWarmStatus(s gather.WarmStatus) stocktest.WarmStatus {
	return stocktest.WarmStatus(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, stocktest.ErrorBody{Error: msg})
}
