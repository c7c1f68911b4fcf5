// Package reconcile orchestrates one full acquisition cycle: fetch the
// independent sources in parallel, feed the dependent ones, derive the
// daily spread record and report what happened. A cycle never fails as a
// whole; each source degrades independently and the report says how.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"silverpulse/internal/config"
	"silverpulse/internal/fetch"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/metrics"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

// Source surfaces for the five adapters. The orchestrator depends on these
// interfaces so cycle semantics are testable without network or database.
type (
	StockSource interface {
		Fetch(ctx context.Context, date time.Time, trigger string) source.Result[domain.StockSnapshot]
	}
	FxSource interface {
		Fetch(ctx context.Context, date time.Time, trigger string) source.Result[fetch.FxRates]
	}
	SpotSource interface {
		Fetch(ctx context.Context, date time.Time, trigger string) source.Result[domain.SpotPrice]
	}
	BenchmarkSource interface {
		Fetch(ctx context.Context, date time.Time, trigger string, fx *fetch.FxRates, spot *domain.SpotPrice) source.Result[domain.BenchmarkPrice]
	}
	RetailSource interface {
		Fetch(ctx context.Context, date time.Time, trigger string, fx *fetch.FxRates, spot *domain.SpotPrice) source.Result[[]domain.RetailQuote]
	}
)

// spreadStore is the persistence surface for the derived record.
type spreadStore interface {
	SpreadOn(ctx context.Context, date time.Time) (*domain.DailySpread, error)
	SpreadHistory(ctx context.Context, before time.Time, window int) ([]float64, error)
	UpsertDailySpread(ctx context.Context, spread domain.DailySpread) (bool, error)
}

// Orchestrator runs acquisition cycles.
type Orchestrator struct {
	analytics config.AnalyticsConfig

	stock     StockSource
	fx        FxSource
	spot      SpotSource
	benchmark BenchmarkSource
	retail    RetailSource

	store   spreadStore
	tracker *runtracker.Tracker
	metrics *infrastructure.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New wires an orchestrator. The tracer may be nil.
func New(analytics config.AnalyticsConfig, stock StockSource, fx FxSource, spot SpotSource, benchmark BenchmarkSource, retail RetailSource, store spreadStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, tracer trace.Tracer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		analytics: analytics,
		stock:     stock,
		fx:        fx,
		spot:      spot,
		benchmark: benchmark,
		retail:    retail,
		store:     store,
		tracker:   tracker,
		metrics:   m,
		tracer:    tracer,
		logger:    logger.With("component", "reconcile"),
	}
}

// Run executes one cycle for the market date and always returns a report,
// never an error. Stage one fetches the independent sources concurrently;
// stage two feeds their outputs to the dependent sources; stage three
// derives the spread record when all of its inputs resolved.
func (o *Orchestrator) Run(ctx context.Context, date time.Time, trigger string) domain.RunReport {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "reconcile.run",
			trace.WithAttributes(
				attribute.String("market.date", date.Format("2006-01-02")),
				attribute.String("trigger", trigger),
			))
		defer span.End()
	}

	run := o.tracker.Begin(ctx, domain.SourceReconcile, trigger)
	started := time.Now()

	report := domain.RunReport{
		RunID:   run.ID(),
		Date:    date,
		Sources: make(map[string]domain.SourceReport, 5),
	}

	// Stage one: the sources with no intra-cycle dependencies.
	var (
		fxRes    source.Result[fetch.FxRates]
		spotRes  source.Result[domain.SpotPrice]
		stockRes source.Result[domain.StockSnapshot]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { fxRes = o.fx.Fetch(gctx, date, trigger); return nil })
	g.Go(func() error { spotRes = o.spot.Fetch(gctx, date, trigger); return nil })
	g.Go(func() error { stockRes = o.stock.Fetch(gctx, date, trigger); return nil })
	_ = g.Wait() // adapters never return errors

	// Stage two: benchmark needs FX, retail needs FX and spot. A stale
	// spot still feeds retail verification, but the benchmark estimator
	// only trusts a live one.
	var fxValue *fetch.FxRates
	if fxRes.OK() {
		v := fxRes.Value
		fxValue = &v
	}
	var spotValue *domain.SpotPrice
	if spotRes.OK() {
		v := spotRes.Value
		spotValue = &v
	}
	var liveSpot *domain.SpotPrice
	if spotRes.Status == source.StatusLive {
		liveSpot = spotValue
	}

	var (
		benchRes  source.Result[domain.BenchmarkPrice]
		retailRes source.Result[[]domain.RetailQuote]
	)
	g2, g2ctx := errgroup.WithContext(ctx)
	g2.Go(func() error {
		benchRes = o.benchmark.Fetch(g2ctx, date, trigger, fxValue, liveSpot)
		return nil
	})
	g2.Go(func() error {
		retailRes = o.retail.Fetch(g2ctx, date, trigger, fxValue, spotValue)
		return nil
	})
	_ = g2.Wait()

	report.Sources[domain.SourceFx] = sourceReport(fxRes.Status, fxRes.AsOf, fxRes.Source, fxRes.Failure)
	report.Sources[domain.SourceSpot] = sourceReport(spotRes.Status, spotRes.AsOf, spotRes.Source, spotRes.Failure)
	report.Sources[domain.SourceStock] = sourceReport(stockRes.Status, stockRes.AsOf, stockRes.Source, stockRes.Failure)
	report.Sources[domain.SourceBenchmark] = sourceReport(benchRes.Status, benchRes.AsOf, benchRes.Source, benchRes.Failure)
	report.Sources[domain.SourceRetail] = sourceReport(retailRes.Status, retailRes.AsOf, retailRes.Source, retailRes.Failure)

	for _, res := range []struct {
		name string
		fail *source.Failure
		ok   bool
	}{
		{domain.SourceFx, fxRes.Failure, fxRes.OK()},
		{domain.SourceSpot, spotRes.Failure, spotRes.OK()},
		{domain.SourceStock, stockRes.Failure, stockRes.OK()},
		{domain.SourceBenchmark, benchRes.Failure, benchRes.OK()},
		{domain.SourceRetail, retailRes.Failure, retailRes.OK()},
	} {
		if !res.ok {
			report.Failed++
			if res.fail != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", res.name, res.fail.Error()))
			}
		}
	}

	// Stage three: the derived record needs all three of its inputs.
	usable := 5 - report.Failed
	if benchRes.OK() && spotRes.OK() && stockRes.OK() {
		inserted, err := o.derive(ctx, date, benchRes.Value, spotRes.Value, stockRes.Value)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("derive: %v", err))
		case inserted:
			report.Inserted++
		default:
			report.Updated++
		}
	} else {
		report.Errors = append(report.Errors,
			"derive: "+source.Fail(source.CodeDependencyFailed,
				"spread needs benchmark, spot and stock for %s", date.Format("2006-01-02")).Error())
	}

	switch {
	case usable == 0:
		report.Status = domain.RunStatusError
	case report.Failed == 0 && allLive(fxRes.Status, spotRes.Status, stockRes.Status, benchRes.Status, retailRes.Status):
		report.Status = domain.RunStatusOK
	default:
		report.Status = domain.RunStatusPartial
	}

	report.Duration = time.Since(started)
	errMsg := ""
	if len(report.Errors) > 0 {
		errMsg = report.Errors[0]
	}
	run.Finish(ctx, report.Status, report.Inserted, report.Updated, report.Failed, errMsg)
	o.metrics.FetchRunsTotal.WithLabelValues(domain.SourceReconcile, string(report.Status)).Inc()

	o.logger.InfoContext(ctx, "reconciliation cycle finished",
		slog.String("run_id", report.RunID),
		slog.Time("date", date),
		slog.String("status", string(report.Status)),
		slog.Int("failed_sources", report.Failed),
		slog.Duration("duration", report.Duration))

	return report
}

// Backfill runs one cycle per calendar day in [from, to], skipping
// weekends and days that already have a derived record, and returns the
// reports in date order. Each day degrades independently; a bad day never
// stops the range.
func (o *Orchestrator) Backfill(ctx context.Context, from, to time.Time, trigger string) []domain.RunReport {
	var reports []domain.RunReport
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			break
		}
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if existing, err := o.store.SpreadOn(ctx, d); err == nil && existing != nil {
			o.logger.Debug("backfill: day already reconciled", "date", d.Format("2006-01-02"))
			continue
		}
		reports = append(reports, o.Run(ctx, d, trigger))
	}
	return reports
}

// derive computes and stores the daily spread record.
func (o *Orchestrator) derive(ctx context.Context, date time.Time, benchmark domain.BenchmarkPrice, spot domain.SpotPrice, stock domain.StockSnapshot) (bool, error) {
	history, err := o.store.SpreadHistory(ctx, date, o.analytics.ZScoreWindowDays)
	if err != nil {
		return false, fmt.Errorf("load spread history: %w", err)
	}

	spread := metrics.Reconcile(benchmark, spot, stock, history, o.analytics.ExtremeZScore)
	spread.Date = date

	inserted, err := o.store.UpsertDailySpread(ctx, spread)
	if err != nil {
		return false, fmt.Errorf("store daily spread: %w", err)
	}

	op := "update"
	if inserted {
		op = "insert"
	}
	o.metrics.RowsUpsertedTotal.WithLabelValues("daily_spread", op).Inc()

	if spread.IsExtreme {
		o.logger.WarnContext(ctx, "extreme spread regime detected",
			slog.Time("date", date),
			slog.Float64("spread_usd_per_oz", spread.SpreadUsdPerOz),
			slog.Float64("z_score", *spread.ZScore))
	}
	return inserted, nil
}

func sourceReport(status source.Status, asOf time.Time, src string, fail *source.Failure) domain.SourceReport {
	r := domain.SourceReport{Provider: src}
	switch status {
	case source.StatusLive:
		r.Freshness = domain.FreshnessLive
	case source.StatusStale:
		r.Freshness = domain.FreshnessStale
	default:
		r.Freshness = domain.FreshnessUnavailable
	}
	if !asOf.IsZero() {
		t := asOf
		r.AsOf = &t
	}
	if fail != nil {
		r.ErrorCode = string(fail.Code)
		r.Error = fail.Message
	}
	return r
}

func allLive(statuses ...source.Status) bool {
	for _, s := range statuses {
		if s != source.StatusLive {
			return false
		}
	}
	return true
}
