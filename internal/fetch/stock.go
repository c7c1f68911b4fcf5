package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"silverpulse/internal/config"
	"silverpulse/internal/dataprocessing"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

// stockStore is the persistence surface the stock adapter needs.
type stockStore interface {
	UpsertStockSnapshot(ctx context.Context, snap domain.StockSnapshot) (bool, error)
	LatestStockBefore(ctx context.Context, date time.Time) (*domain.StockSnapshot, error)
}

// StockFetcher downloads the exchange daily stock report, parses the
// workbook and stores the snapshot with day-over-day deltas.
type StockFetcher struct {
	cfg     config.StockSourceConfig
	client  *resty.Client
	parser  *dataprocessing.StockReportParser
	store   stockStore
	tracker *runtracker.Tracker
	metrics *infrastructure.Metrics
	logger  *slog.Logger
}

// NewStockFetcher wires the stock adapter.
func NewStockFetcher(cfg config.StockSourceConfig, client *resty.Client, store stockStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, logger *slog.Logger) *StockFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	bounds := dataprocessing.StockBounds{
		MinRegistered:     cfg.MinRegistered,
		MaxRegistered:     cfg.MaxRegistered,
		MinEligible:       cfg.MinEligible,
		MaxEligible:       cfg.MaxEligible,
		MinCombined:       cfg.MinRegistered + cfg.MinEligible,
		MaxCombined:       cfg.MaxRegistered + cfg.MaxEligible,
		CombinedTolerance: dataprocessing.DefaultStockBounds().CombinedTolerance,
	}
	return &StockFetcher{
		cfg:     cfg,
		client:  client,
		parser:  dataprocessing.NewStockReportParser(bounds, logger),
		store:   store,
		tracker: tracker,
		metrics: m,
		logger:  logger.With("component", "fetch.stock"),
	}
}

// Fetch resolves the stock snapshot for the date. A snapshot with
// plausibility warnings is stored anyway; only download or parse failures
// leave the date empty.
func (f *StockFetcher) Fetch(ctx context.Context, date time.Time, trigger string) source.Result[domain.StockSnapshot] {
	run := f.tracker.Begin(ctx, domain.SourceStock, trigger)
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(domain.SourceStock).Observe(time.Since(start).Seconds())
	}()

	body, err := f.download(ctx)
	if err != nil {
		fail := source.Fail(source.CodeFetchError, "download stock report: %v", err)
		f.finish(ctx, run, domain.RunStatusError, 0, false, fail.Message)
		return source.Unavailable[domain.StockSnapshot](f.cfg.ReportURL, fail)
	}

	report, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		fail := source.Fail(source.CodeParseError, "parse stock report: %v", err)
		f.finish(ctx, run, domain.RunStatusError, 0, false, fail.Message)
		return source.Unavailable[domain.StockSnapshot](f.cfg.ReportURL, fail)
	}

	snap := domain.StockSnapshot{
		Date:              date,
		Registered:        report.Registered,
		Eligible:          report.Eligible,
		Combined:          report.Combined,
		RegisteredPercent: registeredPercent(report.Registered, report.Combined),
		Warehouses:        report.Warehouses,
		Warnings:          report.Warnings,
		Source:            f.cfg.ReportURL,
		FetchedAt:         time.Now().UTC(),
	}

	if prior, err := f.store.LatestStockBefore(ctx, date); err != nil {
		f.logger.WarnContext(ctx, "delta lookup failed, storing without deltas",
			slog.String("error", err.Error()))
	} else if prior != nil {
		dr := snap.Registered - prior.Registered
		de := snap.Eligible - prior.Eligible
		dc := snap.Combined - prior.Combined
		snap.DeltaRegistered = &dr
		snap.DeltaEligible = &de
		snap.DeltaCombined = &dc
	}

	inserted, err := f.store.UpsertStockSnapshot(ctx, snap)
	if err != nil {
		fail := source.Fail(source.CodeFetchError, "store stock snapshot: %v", err)
		f.finish(ctx, run, domain.RunStatusError, 0, false, fail.Message)
		return source.Unavailable[domain.StockSnapshot](f.cfg.ReportURL, fail)
	}
	countUpsert(f.metrics, "stock_snapshot", inserted)

	status := domain.RunStatusOK
	errMsg := ""
	if len(snap.Warnings) > 0 {
		status = domain.RunStatusPartial
		errMsg = fmt.Sprintf("stored with %d warnings", len(snap.Warnings))
	}
	f.finish(ctx, run, status, 1, inserted, errMsg)

	f.logger.InfoContext(ctx, "stock snapshot stored",
		slog.Time("date", date),
		slog.Float64("registered", snap.Registered),
		slog.Float64("eligible", snap.Eligible),
		slog.Int("warehouses", len(snap.Warehouses)),
		slog.Int("warnings", len(snap.Warnings)))

	return source.Live(f.cfg.ReportURL, snap, date)
}

func (f *StockFetcher) download(ctx context.Context) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	resp, err := f.client.R().SetContext(dctx).Get(f.cfg.ReportURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	return body, nil
}

func (f *StockFetcher) finish(ctx context.Context, run *runtracker.Run, status domain.RunStatus, rows int, inserted bool, errMsg string) {
	ins, upd, failed := 0, 0, 0
	if rows > 0 {
		if inserted {
			ins = rows
		} else {
			upd = rows
		}
	}
	if status == domain.RunStatusError {
		failed = 1
	}
	run.Finish(ctx, status, ins, upd, failed, errMsg)
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceStock, string(status)).Inc()
}

func registeredPercent(registered, combined float64) float64 {
	if combined == 0 {
		return 0
	}
	return registered / combined * 100
}
