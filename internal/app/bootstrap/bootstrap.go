package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	automationengine "adpilot/contexts/ad-automation/automation-engine"
	"adpilot/contexts/ad-automation/automation-engine/adapters/adsapi"
	"adpilot/contexts/ad-automation/automation-engine/adapters/catalog"
	"adpilot/contexts/ad-automation/automation-engine/adapters/classifier"
	"adpilot/contexts/ad-automation/automation-engine/adapters/listings"
	postgresadapter "adpilot/contexts/ad-automation/automation-engine/adapters/postgres"
	"adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/evaluators"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/internal/platform/config"
	"adpilot/internal/platform/db"
	"adpilot/internal/platform/httpserver"
	"adpilot/internal/platform/messaging"
	"adpilot/internal/platform/observability"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type WorkerApp struct {
	cfg      config.Config
	postgres *db.Postgres
	bus      *messaging.Kafka
	module   automationengine.Module
	server   *httpserver.Server
	logger   *slog.Logger

	ticks sync.WaitGroup
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.ServiceName, "process", "worker")
	slog.SetDefault(logger)
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	repo := postgresadapter.NewRepository(pg.DB, logger)
	if err := repo.Migrate(context.Background()); err != nil {
		_ = pg.Close()
		return nil, err
	}

	bus, err := messaging.NewKafka(nil, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	sleeper := postgresadapter.TimerSleeper{}
	deps := automationengine.Dependencies{
		Rules:       repo,
		Logs:        repo,
		Performance: repo,
		Throttle:    repo,
		Overrides:   repo,
		Ads: adsapi.New(adsapi.Config{
			BaseURL:       cfg.Ads.BaseURL,
			ClientID:      cfg.Ads.ClientID,
			AccessToken:   cfg.Ads.AccessToken,
			RatePerSecond: cfg.Ads.RatePerSecond,
			ChunkSize:     cfg.Ads.ChunkSize,
			MaxParallel:   cfg.Ads.MaxParallel,
			Timeout:       cfg.HTTPTimeout,
			MaxRetries:    3,
		}, sleeper, metrics, logger),
		Classifier: classifier.New(classifier.Config{
			BaseURL: cfg.Classifier.BaseURL,
			APIKeys: cfg.Classifier.APIKeys,
			Model:   cfg.Classifier.Model,
			Timeout: cfg.HTTPTimeout,
		}, metrics, logger),
		Publisher:   bus,
		Subscriber:  bus,
		Metrics:     metrics,
		Clock:       postgresadapter.SystemClock{},
		IDGenerator: postgresadapter.UUIDGenerator{},
		Sleeper:     sleeper,
		Location:    location,
		Settings: evaluators.Settings{
			ClassifierBatchSize:  cfg.Classifier.BatchSize,
			ClassifierBatchDelay: cfg.Classifier.BatchDelay,
			ClassifierRetry:      application.ClassifierRetryPolicy,
			SKUDelay:             cfg.Listings.SKUDelay,
		},
		BudgetResetAt: cfg.BudgetResetTime,
		Logger:        logger,
	}
	// Price rules report missing credentials when no listing client is wired.
	if cfg.Listings.BaseURL != "" && cfg.Listings.AccessToken != "" && cfg.Listings.SellerID != "" {
		deps.Listings = listings.New(listings.Config{
			BaseURL:       cfg.Listings.BaseURL,
			AccessToken:   cfg.Listings.AccessToken,
			SellerID:      cfg.Listings.SellerID,
			MarketplaceID: cfg.Listings.MarketplaceID,
			RatePerSecond: cfg.Listings.RatePerSecond,
			Timeout:       cfg.HTTPTimeout,
			MaxRetries:    2,
		}, sleeper, metrics, logger)
	}
	if cfg.Catalog.BaseURL != "" {
		deps.Catalog = catalog.New(catalog.Config{
			BaseURL:       cfg.Catalog.BaseURL,
			AccessToken:   cfg.Catalog.AccessToken,
			SellerID:      cfg.Listings.SellerID,
			MarketplaceID: cfg.Listings.MarketplaceID,
			RatePerSecond: cfg.Listings.RatePerSecond,
			Timeout:       cfg.HTTPTimeout,
			MaxRetries:    2,
		}, sleeper, metrics, logger)
	}

	module := automationengine.NewModule(deps)
	return &WorkerApp{
		cfg:      cfg,
		postgres: pg,
		bus:      bus,
		module:   module,
		server:   httpserver.New(module, metrics.Handler(), logger, normalizeAddr(cfg.HTTPPort)),
		logger:   logger,
	}, nil
}

// Run drives the scheduler tick loop, the daily budget reset and the
// control HTTP server until ctx ends.
func (w *WorkerApp) Run(ctx context.Context) error {
	if w.cfg.EnableManualTrigger {
		if err := w.module.ManualTrigger.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(w.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return w.loop(gctx)
	})

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"tick_interval", w.cfg.TickInterval.String(),
		"scheduler_enabled", w.cfg.EnableScheduler,
		"budget_reset_enabled", w.cfg.EnableBudgetReset,
	)
	err := g.Wait()
	w.ticks.Wait()
	w.bus.Wait()
	return err
}

func (w *WorkerApp) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if w.cfg.EnableScheduler {
			w.tick(ctx)
		}
		if w.cfg.EnableBudgetReset {
			if _, _, err := w.module.BudgetReset.RunIfDue(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("daily budget reset failed",
					"event", "bootstrap_budget_reset_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs in the background so the loop keeps its cadence; a tick that
// lands while the previous one is still running is skipped by the scheduler.
func (w *WorkerApp) tick(ctx context.Context) {
	w.ticks.Add(1)
	go func() {
		defer w.ticks.Done()
		if _, err := w.module.Scheduler.RunOnce(ctx); err != nil &&
			!errors.Is(err, domainerrors.ErrTickInProgress) && ctx.Err() == nil {
			w.logger.Error("scheduler tick failed",
				"event", "bootstrap_tick_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}()
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
