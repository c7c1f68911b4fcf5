// Command fetch runs reconciliation cycles from the command line: one
// market date by default, or a backfill range with -from/-to.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"silverpulse/internal/config"
	"silverpulse/internal/fetch"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/reconcile"
	"silverpulse/internal/repository"
	"silverpulse/internal/runtracker"
	"silverpulse/pkg/contracts/domain"
)

func main() {
	dateStr := flag.String("date", "", "market date (YYYY-MM-DD), default today")
	fromStr := flag.String("from", "", "backfill start date (YYYY-MM-DD)")
	toStr := flag.String("to", "", "backfill end date (YYYY-MM-DD)")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	if err := run(*dateStr, *fromStr, *toStr, *timeout); err != nil {
		slog.Error("fetch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(dateStr, fromStr, toStr string, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogger()

	store, err := repository.Open(cfg.Database.DSN, logger)
	if err != nil {
		return err
	}

	metrics := infrastructure.NewMetrics(prometheus.NewRegistry())
	tracker := runtracker.New(store, nil, logger)
	client := fetch.NewHTTPClient(cfg.Sources.RetryAttempts)

	orchestrator := reconcile.New(cfg.Analytics,
		fetch.NewStockFetcher(cfg.Sources.Stock, client, store, tracker, metrics, logger),
		fetch.NewFxFetcher(cfg.Sources.FX, cfg.Sources, client, store, tracker, metrics, logger),
		fetch.NewSpotFetcher(cfg.Sources.Spot, cfg.Sources, client, store, tracker, metrics, logger),
		fetch.NewBenchmarkFetcher(cfg.Sources.Benchmark, cfg.Sources, client, store, tracker, metrics, logger),
		fetch.NewRetailFetcher(cfg.Sources.Retail, nil, client, store, tracker, metrics, logger),
		store, tracker, metrics, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var reports []domain.RunReport
	switch {
	case fromStr != "" || toStr != "":
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return fmt.Errorf("invalid -from date %q", fromStr)
		}
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return fmt.Errorf("invalid -to date %q", toStr)
		}
		if to.Before(from) {
			return fmt.Errorf("-to must not be before -from")
		}
		reports = orchestrator.Backfill(ctx, from, to, domain.TriggerBackfill)
	default:
		date := time.Now().UTC().Truncate(24 * time.Hour)
		if dateStr != "" {
			date, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				return fmt.Errorf("invalid -date %q", dateStr)
			}
		}
		reports = []domain.RunReport{orchestrator.Run(ctx, date, domain.TriggerManual)}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := 0
	for _, report := range reports {
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Status == domain.RunStatusError {
			failed++
		}
	}
	if failed == len(reports) && len(reports) > 0 {
		return fmt.Errorf("all %d cycles failed", failed)
	}
	return nil
}
