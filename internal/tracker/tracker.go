// Package tracker persists per-symbol first-occurrence state across scan
// cycles and process restarts: first breakout timestamps per lookback window,
// first strategy-trigger timestamps, and the all-time-high map.
//
// Mutations flow through the orchestrator's merge step, but the read methods
// are also called from HTTP handler goroutines, so every method takes the
// store lock. Files are overwritten wholesale; external readers of the
// JSON documents must tolerate eventual consistency mid-write.
package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File names inside the data directory. Formats match the original
// documents: {symbol: {window: timestamp}}, {symbol: {strategy: timestamp}},
// {symbol: price}.
const (
	breakoutFile = "breakout_tracker.json"
	strategyFile = "strategy_tracker.json"
	athFile      = "ath_cache.json"
)

// Store is the durable tracker. One logical writer (the orchestrator) plus
// concurrent readers; the mutex keeps the maps safe for both.
type Store struct {
	dir string

	mu         sync.RWMutex
	breakouts  map[string]map[string]string
	strategies map[string]map[string]string
	ath        map[string]float64

	breakoutsDirty  bool
	strategiesDirty bool
	athDirty        bool
}

// Open creates a Store rooted at dir and loads any existing documents.
// Missing files are not an error; the store starts empty.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tracker: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:        dir,
		breakouts:  make(map[string]map[string]string),
		strategies: make(map[string]map[string]string),
		ath:        make(map[string]float64),
	}

	if err := loadJSON(filepath.Join(dir, breakoutFile), &s.breakouts); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, strategyFile), &s.strategies); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, athFile), &s.ath); err != nil {
		return nil, err
	}

	log.Printf("[tracker] loaded %d breakout, %d strategy, %d ATH entries from %s",
		len(s.breakouts), len(s.strategies), len(s.ath), dir)
	return s, nil
}

func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracker: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("tracker: parse %s: %w", path, err)
	}
	return nil
}

// IsPrecise reports whether a tracker timestamp carries a session date
// ("2006-01-02 15:04:05"). Coarse scan-time stamps ("15:04:05") do not.
func IsPrecise(ts string) bool {
	return len(ts) >= 10 && ts[4] == '-' && ts[7] == '-'
}

// RecordBreakout stores the first breakout timestamp of the session for
// (symbol, window). Write-once: an existing value is kept, except that a
// precise timestamp replaces a coarse fallback exactly once. Returns true if
// the stored value changed.
func (s *Store) RecordBreakout(symbol, window, ts string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record(s.breakouts, symbol, window, ts) {
		s.breakoutsDirty = true
		return true
	}
	return false
}

// RecordStrategy stores the first trigger timestamp of the session for
// (symbol, strategy), with the same write-once / precise-supersedes-coarse
// rule as RecordBreakout.
func (s *Store) RecordStrategy(symbol, strategy, ts string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record(s.strategies, symbol, strategy, ts) {
		s.strategiesDirty = true
		return true
	}
	return false
}

func record(m map[string]map[string]string, symbol, key, ts string) bool {
	if ts == "" {
		return false
	}
	inner, ok := m[symbol]
	if !ok {
		inner = make(map[string]string)
		m[symbol] = inner
	}
	existing, ok := inner[key]
	if !ok {
		inner[key] = ts
		return true
	}
	if !IsPrecise(existing) && IsPrecise(ts) {
		inner[key] = ts
		return true
	}
	return false
}

// UpdateATH raises the stored all-time-high for symbol. Monotonic: a lower
// proposal is ignored. Returns true if the value changed.
func (s *Store) UpdateATH(symbol string, price float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price <= s.ath[symbol] {
		return false
	}
	s.ath[symbol] = price
	s.athDirty = true
	return true
}

// ATH returns the stored all-time-high for symbol, 0 if unknown.
func (s *Store) ATH(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ath[symbol]
}

// ATHSnapshot returns a copy of the ATH map, safe to hand to workers while
// the orchestrator keeps merging.
func (s *Store) ATHSnapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.ath))
	for k, v := range s.ath {
		out[k] = v
	}
	return out
}

// BreakoutTimes returns a copy of the symbol's recorded breakout timestamps.
func (s *Store) BreakoutTimes(symbol string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTimes(s.breakouts[symbol])
}

// StrategyTimes returns a copy of the symbol's recorded strategy timestamps.
func (s *Store) StrategyTimes(symbol string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTimes(s.strategies[symbol])
}

func copyTimes(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PruneStale removes every timestamp that does not belong to the current
// session. Coarse timestamps lack a date and are always stale. Symbols left
// with no entries are removed entirely. Returns the number of entries pruned.
func (s *Store) PruneStale(sessionDate string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := pruneMap(s.breakouts, sessionDate)
	if pruned > 0 {
		s.breakoutsDirty = true
	}
	p := pruneMap(s.strategies, sessionDate)
	if p > 0 {
		s.strategiesDirty = true
	}
	return pruned + p
}

func pruneMap(m map[string]map[string]string, sessionDate string) int {
	pruned := 0
	for symbol, inner := range m {
		for key, ts := range inner {
			if !strings.HasPrefix(ts, sessionDate) {
				delete(inner, key)
				pruned++
			}
		}
		if len(inner) == 0 {
			delete(m, symbol)
		}
	}
	return pruned
}

// SaveIfDirty writes each document that changed since the last save.
// Whole-file overwrite, matching the persisted format's contract.
func (s *Store) SaveIfDirty() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakoutsDirty {
		if err := saveJSON(filepath.Join(s.dir, breakoutFile), s.breakouts); err != nil {
			return err
		}
		s.breakoutsDirty = false
	}
	if s.strategiesDirty {
		if err := saveJSON(filepath.Join(s.dir, strategyFile), s.strategies); err != nil {
			return err
		}
		s.strategiesDirty = false
	}
	if s.athDirty {
		if err := saveJSON(filepath.Join(s.dir, athFile), s.ath); err != nil {
			return err
		}
		s.athDirty = false
	}
	return nil
}

func saveJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tracker: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tracker: write %s: %w", path, err)
	}
	return nil
}

// Symbols returns all symbols with any tracked breakout entry. Used by tests
// and the read API debug output.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.breakouts))
	for sym := range s.breakouts {
		out = append(out, sym)
	}
	return out
}
