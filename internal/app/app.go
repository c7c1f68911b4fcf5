// Package app assembles the server: configuration, logging, tracing,
// persistence, the source adapters, the orchestrator, the HTTP and
// websocket transports and the cron trigger.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"silverpulse/internal/config"
	"silverpulse/internal/fetch"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/reconcile"
	"silverpulse/internal/repository"
	"silverpulse/internal/runtracker"
	transport "silverpulse/internal/transport/http"
	"silverpulse/internal/transport/ws"
	"silverpulse/pkg/contracts/domain"
)

// Application is the wired server.
type Application struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *repository.Store
	hub          *ws.Hub
	orchestrator *reconcile.Orchestrator
	server       *http.Server
	scheduler    *cron.Cron
	tracing      *infrastructure.TracerProviders
}

// NewApplication loads configuration and wires every component.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	tracing, err := infrastructure.InitializeTracing(context.Background(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	store, err := repository.Open(cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}

	metrics := infrastructure.NewMetrics(prometheus.DefaultRegisterer)
	hub := ws.NewHub(logger)
	tracker := runtracker.New(store, hub, logger)
	client := fetch.NewHTTPClient(cfg.Sources.RetryAttempts)

	stock := fetch.NewStockFetcher(cfg.Sources.Stock, client, store, tracker, metrics, logger)
	fx := fetch.NewFxFetcher(cfg.Sources.FX, cfg.Sources, client, store, tracker, metrics, logger)
	spot := fetch.NewSpotFetcher(cfg.Sources.Spot, cfg.Sources, client, store, tracker, metrics, logger)
	benchmark := fetch.NewBenchmarkFetcher(cfg.Sources.Benchmark, cfg.Sources, client, store, tracker, metrics, logger)
	retail := fetch.NewRetailFetcher(cfg.Sources.Retail, nil, client, store, tracker, metrics, logger)

	orchestrator := reconcile.New(cfg.Analytics, stock, fx, spot, benchmark, retail,
		store, tracker, metrics, tracing.Tracer, logger)

	handler := transport.NewHandler(store, orchestrator,
		cfg.Analytics.TrendWindowDays, cfg.Analytics.RegimeWindowDays, logger)
	router := transport.NewRouter(handler, hub, logger)

	app := &Application{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		hub:          hub,
		orchestrator: orchestrator,
		tracing:      tracing,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.Schedule.Enabled {
		app.scheduler = cron.New()
		_, err := app.scheduler.AddFunc(cfg.Schedule.Spec, app.scheduledRun)
		if err != nil {
			return nil, fmt.Errorf("register schedule %q: %w", cfg.Schedule.Spec, err)
		}
	}

	return app, nil
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (a *Application) Run() error {
	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("scheduler started", slog.String("spec", a.cfg.Schedule.Spec))
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		a.logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	return a.shutdown()
}

func (a *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		stopped := a.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	a.hub.Shutdown()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogger()

	a.logger.Info("shutdown complete")
	return nil
}

// scheduledRun fires a cycle for today's market date.
func (a *Application) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	date := time.Now().UTC().Truncate(24 * time.Hour)
	report := a.orchestrator.Run(ctx, date, domain.TriggerScheduled)

	a.logger.Info("scheduled cycle finished",
		slog.String("run_id", report.RunID),
		slog.String("status", string(report.Status)),
		slog.Int("failed_sources", report.Failed))
}
