// Package universe resolves the scannable instrument set from the Angel One
// scrip master dump.
package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stock-scanner/internal/model"
)

const (
	scripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"
	cacheFileName  = "scrip_master.json"
	cacheMaxAge    = 24 * time.Hour
)

// record is one row of the scrip master dump.
type record struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// ScripMaster downloads and caches the instrument dump and derives the
// universe: NSE cash equities that have an F&O contract.
type ScripMaster struct {
	cacheDir   string
	httpClient *http.Client
	log        *slog.Logger

	mu          sync.RWMutex
	instruments []model.Instrument
	bySymbol    map[string]string
}

// New builds a ScripMaster that caches the dump under cacheDir.
func New(cacheDir string, log *slog.Logger) *ScripMaster {
	return &ScripMaster{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.With("component", "universe"),
	}
}

func (s *ScripMaster) cachePath() string {
	return filepath.Join(s.cacheDir, cacheFileName)
}

func (s *ScripMaster) loadDump(ctx context.Context) ([]record, error) {
	path := s.cachePath()
	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < cacheMaxAge {
		raw, err := os.ReadFile(path)
		if err == nil {
			var records []record
			if err := json.Unmarshal(raw, &records); err == nil {
				s.log.Debug("scrip master loaded from cache", "records", len(records))
				return records, nil
			}
			s.log.Warn("scrip master cache unreadable, refetching", "error", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scripMasterURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download scrip master: http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scrip master: %w", err)
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse scrip master: %w", err)
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err == nil {
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			s.log.Warn("could not cache scrip master", "error", err)
		}
	}
	s.log.Info("scrip master downloaded", "records", len(records))
	return records, nil
}

// Instruments returns the derived universe, loading the dump on first call.
func (s *ScripMaster) Instruments(ctx context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	if s.instruments != nil {
		out := s.instruments
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	records, err := s.loadDump(ctx)
	if err != nil {
		return nil, err
	}
	instruments, bySymbol := derive(records)

	s.mu.Lock()
	s.instruments = instruments
	s.bySymbol = bySymbol
	s.mu.Unlock()

	s.log.Info("universe built", "symbols", len(instruments))
	return instruments, nil
}

// Lookup resolves a cash symbol (e.g. "RELIANCE") to its NSE token.
func (s *ScripMaster) Lookup(symbol string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.bySymbol[strings.ToUpper(symbol)]
	return token, ok
}

// derive picks the NSE cash leg of every name that has a futures contract.
// F&O rows live in the NFO segment with instrumenttype FUTSTK; the cash leg
// is the NSE row whose symbol is "<name>-EQ".
func derive(records []record) ([]model.Instrument, map[string]string) {
	futNames := make(map[string]bool)
	for _, r := range records {
		if r.ExchSeg == "NFO" && r.InstrumentType == "FUTSTK" {
			futNames[r.Name] = true
		}
	}

	bySymbol := make(map[string]string)
	var instruments []model.Instrument
	for _, r := range records {
		if r.ExchSeg != "NSE" || !strings.HasSuffix(r.Symbol, "-EQ") {
			continue
		}
		name := strings.TrimSuffix(r.Symbol, "-EQ")
		if !futNames[name] {
			continue
		}
		if _, dup := bySymbol[name]; dup {
			continue
		}
		bySymbol[name] = r.Token
		instruments = append(instruments, model.Instrument{
			Symbol:   name,
			Token:    r.Token,
			Exchange: "NSE",
		})
	}

	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].Symbol < instruments[j].Symbol
	})
	return instruments, bySymbol
}
