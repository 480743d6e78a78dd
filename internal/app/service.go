package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/engine"
	"alertdesk/internal/logging"
	"alertdesk/internal/rulecache"
	"alertdesk/internal/store"
	"alertdesk/internal/sweep"
)

// HTTPServerBuilder turns service dependencies into an http.Handler.
// Params: the managers and runner the API layer needs.
// Returns: handler mounted on the service's http.Server.
// Package httpapi imports app, so the handler is injected from main.
type HTTPServerBuilder func(deps HTTPDeps) http.Handler

// HTTPDeps carries everything the HTTP layer needs from the service.
// Params: managers, sweep store/runner, readiness probe, and logger.
// Returns: bundle passed to the HTTPServerBuilder.
type HTTPDeps struct {
	Config    config.Config
	Clock     clock.Clock
	Alerts    *AlertManager
	Rules     *RuleManager
	Dashboard *DashboardManager
	Sweeps    store.SweepStore
	Runner    *sweep.Runner
	Ready     func() bool
	Log       *slog.Logger
}

// IngestBuilder starts the NATS report subscriber.
// Params: config, connection URLs, alert manager, and logger.
// Returns: closable subscriber handle or setup error.
type IngestBuilder func(cfg config.NATSIngestConfig, urls []string, alerts *AlertManager, log *slog.Logger) (interface{ Close() error }, error)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable alert dashboard service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     store.Store
	alerts    *AlertManager
	rules     *RuleManager
	dashboard *DashboardManager
	runner    *sweep.Runner
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds the service from a loaded config snapshot.
// Params: config, clock, HTTP builder, and optional ingest builder.
// Returns: initialized service or setup error.
func NewService(cfg config.Config, clk clock.Clock, buildHTTP HTTPServerBuilder, buildIngest IngestBuilder) (*Service, error) {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	cache := rulecache.New(st, cfg.CacheTTL(), clk)
	eng := engine.New(st, cache, clk, logger)

	service := &Service{
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		store:     st,
		alerts:    NewAlertManager(st, eng, clk, logger),
		rules:     NewRuleManager(st, cache, clk, logger),
		dashboard: NewDashboardManager(st, clk),
		runner:    sweep.NewRunner(eng, st, clk, logger),
		clock:     clk,
	}

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer seedCancel()
	if err := service.rules.SeedDefaults(seedCtx, cfg.Rule); err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("seed rules: %w", err)
	}

	if cfg.HTTP.Enabled {
		handler := buildHTTP(HTTPDeps{
			Config:    cfg,
			Clock:     clk,
			Alerts:    service.alerts,
			Rules:     service.rules,
			Dashboard: service.dashboard,
			Sweeps:    st,
			Runner:    service.runner,
			Ready:     service.readyFlag.Load,
			Log:       logger,
		})
		service.httpSrv = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.NATS.Ingest.Enabled && buildIngest != nil {
		subscriber, err := buildIngest(cfg.NATS.Ingest, cfg.NATS.URL, service.alerts, logger)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.natsSub = subscriber
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until shutdown.
// Params: root context for the service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if _, err := s.runner.RunOnce(shutdownCtx); err != nil &&
					!errors.Is(err, sweep.ErrAlreadyRunning) && !errors.Is(err, context.Canceled) {
					s.logger.Error("sweep tick failed", "error", err.Error())
				}
			}
		}
	}()

	s.readyFlag.Store(true)
	s.logger.Info("service started", "mode", s.cfg.Service.Mode, "sweep_interval", s.cfg.SweepInterval().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildStore creates the runtime store backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (store.Store, error) {
	if cfg.Service.Mode == config.ServiceModeSingle {
		return store.NewMemoryStore(), nil
	}
	return store.NewNATSStore(store.NATSSettings{
		URL:                cfg.NATS.URL,
		AlertBucket:        cfg.NATS.AlertBucket,
		RuleBucket:         cfg.NATS.RuleBucket,
		SweepBucket:        cfg.NATS.SweepBucket,
		CounterBucket:      cfg.NATS.CounterBucket,
		AllowCreateBuckets: cfg.NATS.AllowCreateBuckets,
	})
}
