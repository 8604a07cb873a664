// Package scanner orchestrates the scan loop: universe load, per-symbol
// workers, single-writer state merge, and the read API.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"stock-scanner/internal/markethours"
	"stock-scanner/internal/metrics"
	"stock-scanner/internal/model"
	"stock-scanner/internal/notify"
	"stock-scanner/internal/recorder"
	"stock-scanner/internal/resolver"
	redisstore "stock-scanner/internal/store/redis"
	"stock-scanner/internal/tracker"
)

// Config holds the scan loop's tunables.
type Config struct {
	ScanInterval  time.Duration
	Workers       int
	RatePerSecond float64
	HTTPAddr      string
	MetricsAddr   string
	DataDir       string
}

// Deps are the wired collaborators. Recorder, Publisher, and Notifiers are
// optional; Providers are tried in priority order.
type Deps struct {
	Providers []model.HistoryProvider
	Universe  model.UniverseProvider
	Recorder  *recorder.Recorder
	Publisher *redisstore.Publisher
	Notifiers []notify.Notifier
	Logger    *slog.Logger
}

// Service is the top-level orchestrator.
type Service struct {
	cfg Config

	providers []model.HistoryProvider
	universe  model.UniverseProvider
	store     *tracker.Store
	cache     *Cache
	resolver  *resolver.Resolver
	recorder  *recorder.Recorder
	publisher *redisstore.Publisher
	notifiers []notify.Notifier

	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	limiter *rate.Limiter
	cron    *cron.Cron
	log     *slog.Logger

	// set by the cron job, consumed at the start of the next cycle so the
	// prune runs on the cycle goroutine
	resetPending atomic.Bool
}

// New wires a Service and opens the tracker store under cfg.DataDir.
func New(cfg Config, deps Deps) (*Service, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2.0
	}

	store, err := tracker.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		providers: deps.Providers,
		universe:  deps.Universe,
		store:     store,
		cache:     NewCache(),
		recorder:  deps.Recorder,
		publisher: deps.Publisher,
		notifiers: deps.Notifiers,
		prom:      metrics.NewMetrics(),
		health:    metrics.NewHealthStatus(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cron:      cron.New(cron.WithLocation(markethours.IST)),
		log:       deps.Logger.With("component", "scanner"),
	}
	svc.resolver = resolver.New(svc.fetchIntraday)

	if len(svc.notifiers) == 0 {
		svc.notifiers = []notify.Notifier{notify.NewLogNotifier()}
	}
	return svc, nil
}

// Run starts the scan loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scanner starting",
		"interval", s.cfg.ScanInterval.String(),
		"workers", s.cfg.Workers,
		"providers", len(s.providers))

	// Drop tracker entries left over from previous sessions before the
	// first cycle reads them.
	s.sessionReset()

	// Session reset shortly before market open on weekdays. The cron job
	// only raises a flag; the prune itself runs on the cycle goroutine.
	if _, err := s.cron.AddFunc("10 9 * * 1-5", func() { s.resetPending.Store(true) }); err != nil {
		return err
	}
	s.cron.Start()
	defer s.cron.Stop()

	metricsSrv := metrics.NewServer(s.cfg.MetricsAddr, s.health)
	metricsSrv.Start()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Stop(shutCtx)
		cancel()
	}()

	apiSrv := s.startAPI()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		apiSrv.Shutdown(shutCtx)
		cancel()
	}()

	if s.publisher != nil && s.recorder != nil {
		s.health.StartLivenessChecker(ctx, s.publisher.Client(), s.recorder.DB(), 30*time.Second)
	} else if s.publisher != nil {
		s.health.StartLivenessChecker(ctx, s.publisher.Client(), nil, 30*time.Second)
	} else if s.recorder != nil {
		s.health.StartLivenessChecker(ctx, nil, s.recorder.DB(), 30*time.Second)
	}

	failures := 0
	for {
		now := time.Now().In(markethours.IST)
		if markethours.IsMarketOpen(now) {
			s.prom.MarketState.Set(1)
		} else {
			s.prom.MarketState.Set(0)
		}

		if err := s.safeCycle(ctx); err != nil {
			failures++
			s.log.Error("scan cycle failed", "error", err, "consecutive", failures)
		} else {
			failures = 0
		}

		// Back off harder after repeated failures.
		wait := s.cfg.ScanInterval
		if failures > 0 {
			extra := time.Duration(failures) * 30 * time.Second
			if extra > 5*time.Minute {
				extra = 5 * time.Minute
			}
			wait += extra
		}

		select {
		case <-ctx.Done():
			s.log.Info("scanner stopping")
			if err := s.store.SaveIfDirty(); err != nil {
				s.log.Error("final tracker save failed", "error", err)
			}
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// safeCycle runs one cycle, converting panics into errors so a bad symbol
// never kills the loop.
func (s *Service) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cyclePanicError{val: r}
			s.health.SetCycle(false, 0)
		}
	}()
	return s.runCycle(ctx)
}

type cyclePanicError struct{ val any }

func (e *cyclePanicError) Error() string { return fmt.Sprintf("cycle panic: %v", e.val) }

// sessionReset prunes tracker entries whose timestamps belong to a previous
// session. Coarse (time-only) entries never match the date prefix, so they
// are session-scoped by construction. Called at startup and at the first
// cycle after the cron flag fires, always from the cycle goroutine.
func (s *Service) sessionReset() {
	sessionDate := markethours.SessionDate(time.Now())
	pruned := s.store.PruneStale(sessionDate)
	if pruned > 0 {
		s.log.Info("tracker pruned", "session", sessionDate, "removed", pruned)
	}
	if err := s.store.SaveIfDirty(); err != nil {
		s.log.Error("tracker save after prune failed", "error", err)
	}
}
