package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"stock-scanner/internal/calculator"
	"stock-scanner/internal/markethours"
)

// startAPI launches the read API server and returns it for shutdown.
func (s *Service) startAPI() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scan", s.handleScan)
	mux.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.log.Info("api server listening", "addr", s.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleScan serves the latest cycle's snapshots, strongest first.
func (s *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	snaps := s.cache.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(snaps),
		"results": snaps,
	})
}

// quoter is the optional live-quote side of a history provider.
type quoter interface {
	LTP(ctx context.Context, symbol, token string) (float64, error)
}

// handleAnalyze runs a stateless on-demand computation for one symbol. It
// does not touch the tracker store, so repeated calls are side-effect free.
// When a provider serves live quotes the snapshot's LTP is refreshed from
// the quote; the derived fields stay on the daily close.
func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query param required")
		return
	}

	token, ok := s.universe.Lookup(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}

	now := time.Now().In(markethours.IST)
	candles, err := s.fetchDailyWithRetry(r.Context(), token, now.AddDate(0, 0, -regularLookbackDays), now)
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch failed: "+err.Error())
		return
	}

	res, err := calculator.Compute(symbol, token, candles, s.store.ATH(symbol), now)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	snap := res.Snapshot
	for _, p := range s.providers {
		q, ok := p.(quoter)
		if !ok {
			continue
		}
		if px, err := q.LTP(r.Context(), symbol, token); err == nil && px > 0 {
			snap.LTP = px
			break
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHistory serves recent scan rows for a symbol from SQLite.
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if s.recorder == nil {
		writeError(w, http.StatusNotImplemented, "scan history disabled")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query param required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := s.recorder.History(symbol, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"count":   len(rows),
		"results": rows,
	})
}

// handleStatus reports market session state and cache occupancy.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(markethours.IST)
	out := map[string]any{
		"market":       markethours.StatusString(now),
		"session_date": markethours.SessionDate(now),
		"trading_day":  markethours.IsTradingDay(now),
		"cached":       s.cache.Len(),
		"tracked":      len(s.store.Symbols()),
	}
	if name := markethours.HolidayName(now); name != "" {
		out["holiday"] = name
	}
	writeJSON(w, http.StatusOK, out)
}
