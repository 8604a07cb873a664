package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"stock-scanner/internal/calculator"
	"stock-scanner/internal/markethours"
	"stock-scanner/internal/model"
	"stock-scanner/internal/notify"
	"stock-scanner/internal/resolver"
)

const (
	// Deep fetch bootstraps the all-time-high when the cache has no entry
	// for a symbol; subsequent cycles only need the analysis window.
	deepLookbackDays    = 5000
	regularLookbackDays = 400

	fetchAttempts = 3
)

// symbolResult carries one worker's output back to the merge step.
type symbolResult struct {
	inst model.Instrument
	res  *calculator.Result

	// resolved first-occurrence timestamps, keyed by window label or
	// strategy name
	breakoutStamps map[string]string
	strategyStamps map[string]string

	// ATH seeded from the deep-lookback fetch; 0 when the store already
	// had one
	seedATH float64

	skipReason string // non-empty when the symbol was skipped
	err        error
}

// runCycle scans the whole universe once: fetch, compute, resolve, merge.
func (s *Service) runCycle(ctx context.Context) error {
	if s.resetPending.Swap(false) {
		s.sessionReset()
	}

	start := time.Now()
	now := start.In(markethours.IST)

	instruments, err := s.universe.Instruments(ctx)
	if err != nil {
		s.health.SetCycle(false, 0)
		return fmt.Errorf("load universe: %w", err)
	}

	// ATH state is copied up front so workers never touch the store.
	athSnap := s.store.ATHSnapshot()

	jobs := make(chan model.Instrument)
	results := make(chan symbolResult)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				results <- s.processSymbol(ctx, inst, athSnap[inst.Symbol], now)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, inst := range instruments {
			select {
			case jobs <- inst:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Merge runs on this goroutine only. The tracker store and cache see a
	// single writer.
	var cycleSnaps []*model.Snapshot
	scanned, skipped := 0, 0
	for r := range results {
		if r.err != nil || r.skipReason != "" {
			skipped++
			reason := r.skipReason
			if reason == "" {
				reason = "error"
			}
			s.prom.SymbolsSkipped.WithLabelValues(reason).Inc()
			if r.err != nil {
				s.log.Warn("symbol skipped", "symbol", r.inst.Symbol, "reason", reason, "error", r.err)
			}
			continue
		}
		scanned++
		s.prom.SymbolsScanned.Inc()
		cycleSnaps = append(cycleSnaps, s.merge(ctx, r))
	}

	if err := s.store.SaveIfDirty(); err != nil {
		s.log.Error("tracker save failed", "error", err)
	} else {
		s.prom.TrackerSaves.Inc()
	}

	if s.recorder != nil && len(cycleSnaps) > 0 {
		if err := s.recorder.RecordCycle(cycleSnaps); err != nil {
			s.log.Error("scan history write failed", "error", err)
		}
	}
	if s.publisher != nil && len(cycleSnaps) > 0 {
		if err := s.publisher.PublishCycle(ctx, cycleSnaps); err != nil {
			s.log.Error("redis publish failed", "error", err)
		}
	}

	s.prom.CyclesTotal.Inc()
	s.prom.CycleDur.Observe(time.Since(start).Seconds())
	s.prom.CacheSize.Set(float64(s.cache.Len()))
	s.health.SetCycle(true, len(instruments))

	s.log.Info("cycle complete",
		"universe", len(instruments),
		"scanned", scanned,
		"skipped", skipped,
		"took", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// merge applies one symbol's results to shared state and returns the
// finished snapshot.
func (s *Service) merge(ctx context.Context, r symbolResult) *model.Snapshot {
	snap := r.res.Snapshot
	symbol := r.inst.Symbol

	for window, ts := range r.breakoutStamps {
		if !s.store.RecordBreakout(symbol, window, ts) {
			continue
		}
		s.prom.BreakoutsRecorded.WithLabelValues(window).Inc()
		status := string(snap.Breakouts[window])
		notify.Broadcast(ctx, s.notifiers, notify.Alert{
			Symbol:    symbol,
			Kind:      "breakout",
			Name:      window,
			Status:    status,
			Price:     snap.LTP,
			At:        ts,
			Sentiment: snap.Sentiment,
		})
	}

	for strategy, ts := range r.strategyStamps {
		if !s.store.RecordStrategy(symbol, strategy, ts) {
			continue
		}
		s.prom.StrategiesRecorded.WithLabelValues(strategy).Inc()
	}

	// The deep-fetch seed lands first so the store stops requesting the
	// full history next cycle; today's high may then raise it further.
	if r.seedATH > 0 && s.store.UpdateATH(symbol, r.seedATH) {
		s.prom.ATHUpdates.Inc()
	}
	if r.res.NewATH > 0 && s.store.UpdateATH(symbol, r.res.NewATH) {
		s.prom.ATHUpdates.Inc()
	}

	snap.BreakoutTimes = s.store.BreakoutTimes(symbol)
	snap.StrategyTimes = s.store.StrategyTimes(symbol)
	s.cache.Put(snap)
	return snap
}

// processSymbol runs inside a worker: fetch history, compute the snapshot,
// and resolve first-occurrence timestamps for any new events.
func (s *Service) processSymbol(ctx context.Context, inst model.Instrument, priorATH float64, now time.Time) symbolResult {
	out := symbolResult{inst: inst}

	candles, seedATH, err := s.fetchHistory(ctx, inst.Token, priorATH, now)
	if err != nil {
		out.skipReason, out.err = "fetch_failed", err
		return out
	}
	if priorATH == 0 {
		priorATH = seedATH
		out.seedATH = seedATH
	}

	res, err := calculator.Compute(inst.Symbol, inst.Token, candles, priorATH, now)
	if err != nil {
		switch {
		case errors.Is(err, calculator.ErrInsufficientData):
			out.skipReason = "short_history"
		case errors.Is(err, calculator.ErrStaleData):
			out.skipReason = "stale_data"
		default:
			out.skipReason = "compute_failed"
		}
		out.err = err
		return out
	}
	out.res = res

	out.breakoutStamps, out.strategyStamps = s.resolveEvents(ctx, inst.Token, res.Events, now)
	return out
}

// resolveEvents finds first-occurrence timestamps for the cycle's new events.
// Breakouts only record once a precise intraday cross is found; unresolved
// ones retry next cycle. Strategy triggers fall back to the coarse scan time
// and get upgraded when a later cycle resolves them precisely.
func (s *Service) resolveEvents(ctx context.Context, token string, events []model.Event, now time.Time) (breakouts, strategies map[string]string) {
	breakouts = make(map[string]string)
	strategies = make(map[string]string)

	memo := &resolver.Memo{}
	coarse := now.Format(model.CoarseTimeLayout)

	for _, ev := range events {
		ts, err := s.resolver.Resolve(ctx, token, ev, memo)
		switch {
		case ev.Window != "":
			if err == nil {
				breakouts[ev.Window] = ts
			}
		case ev.Strategy != "":
			if err != nil {
				ts = coarse
			}
			strategies[ev.Strategy] = ts
		}
	}
	return breakouts, strategies
}

// fetchHistory returns the daily series for analysis. With no known ATH it
// fetches the full listing history once to seed it, then trims to the
// analysis window.
func (s *Service) fetchHistory(ctx context.Context, token string, priorATH float64, now time.Time) ([]model.Candle, float64, error) {
	lookback := regularLookbackDays
	if priorATH == 0 {
		lookback = deepLookbackDays
	}

	candles, err := s.fetchDailyWithRetry(ctx, token, now.AddDate(0, 0, -lookback), now)
	if err != nil {
		return nil, 0, err
	}

	var seedATH float64
	if priorATH == 0 {
		seedATH = model.MaxHigh(candles)
		if len(candles) > regularLookbackDays {
			candles = candles[len(candles)-regularLookbackDays:]
		}
	}
	return candles, seedATH, nil
}

// fetchDailyWithRetry walks the provider chain, retrying each with
// exponential backoff before failing over to the next.
func (s *Service) fetchDailyWithRetry(ctx context.Context, token string, from, to time.Time) ([]model.Candle, error) {
	var lastErr error
	for i, p := range s.providers {
		if i > 0 {
			s.prom.ProviderFailovers.WithLabelValues(s.providers[i-1].Name(), p.Name()).Inc()
		}

		var candles []model.Candle
		attempt := 0
		op := func() error {
			if attempt > 0 {
				s.prom.FetchRetries.Inc()
			}
			attempt++

			if err := s.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
			start := time.Now()
			out, err := p.DailyCandles(ctx, token, from, to)
			s.prom.ProviderFetchDur.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return errors.New("empty candle response")
			}
			candles = out
			return nil
		}

		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchAttempts-1)
		if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}

		model.SortAscending(candles)
		return candles, nil
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// fetchIntraday is the resolver's fetch function: same provider chain and
// rate limit as daily fetches, first provider with data wins.
func (s *Service) fetchIntraday(ctx context.Context, token string, date time.Time) ([]model.Candle, error) {
	var lastErr error
	for _, p := range s.providers {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		candles, err := p.IntradayCandles(ctx, token, date)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		if len(candles) > 0 {
			return candles, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no intraday data")
	}
	return nil, lastErr
}
