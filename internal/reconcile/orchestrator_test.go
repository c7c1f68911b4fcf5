package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silverpulse/internal/config"
	"silverpulse/internal/fetch"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

func marketDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

type memRunStore struct {
	mu        sync.Mutex
	created   []domain.FetchRun
	finalized []domain.FetchRun
}

func (m *memRunStore) CreateFetchRun(_ context.Context, run domain.FetchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, run)
	return nil
}

func (m *memRunStore) FinalizeFetchRun(_ context.Context, run domain.FetchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, run)
	return nil
}

type memSpreadStore struct {
	mu       sync.Mutex
	history  []float64
	existing map[string]*domain.DailySpread
	stored   []domain.DailySpread
}

func (m *memSpreadStore) SpreadOn(_ context.Context, date time.Time) (*domain.DailySpread, error) {
	return m.existing[date.Format("2006-01-02")], nil
}

func (m *memSpreadStore) SpreadHistory(_ context.Context, _ time.Time, _ int) ([]float64, error) {
	return m.history, nil
}

func (m *memSpreadStore) UpsertDailySpread(_ context.Context, spread domain.DailySpread) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, spread)
	return true, nil
}

// Fake sources return canned results and record what they were handed.
type fakeStock struct{ res source.Result[domain.StockSnapshot] }

func (f *fakeStock) Fetch(context.Context, time.Time, string) source.Result[domain.StockSnapshot] {
	return f.res
}

type fakeFx struct{ res source.Result[fetch.FxRates] }

func (f *fakeFx) Fetch(context.Context, time.Time, string) source.Result[fetch.FxRates] {
	return f.res
}

type fakeSpot struct{ res source.Result[domain.SpotPrice] }

func (f *fakeSpot) Fetch(context.Context, time.Time, string) source.Result[domain.SpotPrice] {
	return f.res
}

type fakeBenchmark struct {
	mu      sync.Mutex
	res     source.Result[domain.BenchmarkPrice]
	gotFx   *fetch.FxRates
	gotSpot *domain.SpotPrice
}

func (f *fakeBenchmark) Fetch(_ context.Context, _ time.Time, _ string, fx *fetch.FxRates, spot *domain.SpotPrice) source.Result[domain.BenchmarkPrice] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotFx, f.gotSpot = fx, spot
	return f.res
}

type fakeRetail struct {
	mu      sync.Mutex
	res     source.Result[[]domain.RetailQuote]
	gotFx   *fetch.FxRates
	gotSpot *domain.SpotPrice
}

func (f *fakeRetail) Fetch(_ context.Context, _ time.Time, _ string, fx *fetch.FxRates, spot *domain.SpotPrice) source.Result[[]domain.RetailQuote] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotFx, f.gotSpot = fx, spot
	return f.res
}

func liveFixtures(date time.Time) (*fakeFx, *fakeSpot, *fakeStock, *fakeBenchmark, *fakeRetail) {
	fx := &fakeFx{res: source.Live("frankfurter", fetch.FxRates{UsdCny: 7.20, UsdEur: 0.92}, date)}
	spot := &fakeSpot{res: source.Live("yahoo-chart", domain.SpotPrice{Date: date, PriceUsdPerOz: 32.50}, date)}
	stock := &fakeStock{res: source.Live("exchange", domain.StockSnapshot{
		Date: date, Registered: 100e6, Eligible: 300e6, Combined: 400e6, RegisteredPercent: 25,
	}, date)}
	bench := &fakeBenchmark{res: source.Live("metals-api", domain.BenchmarkPrice{
		Date: date, PriceCnyPerGram: 7.61, PriceUsdPerOz: 32.80, FxRateUsed: 7.20,
	}, date)}
	retail := &fakeRetail{res: source.Live("retail", []domain.RetailQuote{
		{Date: date, Provider: "stonex-bullion", Product: "silver-bar-1kg", Status: domain.VerificationVerified},
	}, date)}
	return fx, spot, stock, bench, retail
}

func newOrchestrator(fx FxSource, spot SpotSource, stock StockSource, bench BenchmarkSource, retail RetailSource, store *memSpreadStore) (*Orchestrator, *memRunStore) {
	runs := &memRunStore{}
	tracker := runtracker.New(runs, nil, nil)
	m := infrastructure.NewMetrics(prometheus.NewRegistry())
	analytics := config.AnalyticsConfig{ExtremeZScore: 2.5, ZScoreWindowDays: 90}
	return New(analytics, stock, fx, spot, bench, retail, store, tracker, m, nil, nil), runs
}

func TestRunAllSourcesLive(t *testing.T) {
	date := marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(date)
	store := &memSpreadStore{}
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, store)

	report := o.Run(context.Background(), date, domain.TriggerManual)

	assert.Equal(t, domain.RunStatusOK, report.Status)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Inserted, "derived spread stored")
	assert.Empty(t, report.Errors)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, store.stored, 1)
	spread := store.stored[0]
	assert.InDelta(t, 0.30, spread.SpreadUsdPerOz, 1e-9)
	assert.Equal(t, date, spread.Date)

	for _, name := range []string{domain.SourceFx, domain.SourceSpot, domain.SourceStock, domain.SourceBenchmark, domain.SourceRetail} {
		assert.Equal(t, domain.FreshnessLive, report.Sources[name].Freshness, name)
	}
}

func TestRunFeedsDependentSources(t *testing.T) {
	date := marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(date)
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, &memSpreadStore{})

	o.Run(context.Background(), date, domain.TriggerScheduled)

	require.NotNil(t, bench.gotFx)
	assert.InDelta(t, 7.20, bench.gotFx.UsdCny, 1e-9)
	require.NotNil(t, bench.gotSpot)
	require.NotNil(t, retail.gotFx)
	require.NotNil(t, retail.gotSpot)
	assert.InDelta(t, 32.50, retail.gotSpot.PriceUsdPerOz, 1e-9)
}

func TestRunPartialWhenRetailFails(t *testing.T) {
	date := marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(date)
	retail.res = source.Unavailable[[]domain.RetailQuote]("",
		source.Fail(source.CodeFetchError, "no dealer produced a usable quote"))
	store := &memSpreadStore{}
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, store)

	report := o.Run(context.Background(), date, domain.TriggerScheduled)

	assert.Equal(t, domain.RunStatusPartial, report.Status)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, store.stored, 1, "derived record does not depend on retail")
	assert.Equal(t, domain.FreshnessUnavailable, report.Sources[domain.SourceRetail].Freshness)
	assert.Equal(t, string(source.CodeFetchError), report.Sources[domain.SourceRetail].ErrorCode)
}

func TestRunSkipsDerivedWhenInputMissing(t *testing.T) {
	date := marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(date)
	bench.res = source.Unavailable[domain.BenchmarkPrice]("",
		source.Fail(source.CodeFetchError, "all providers failed"))
	store := &memSpreadStore{}
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, store)

	report := o.Run(context.Background(), date, domain.TriggerScheduled)

	assert.Equal(t, domain.RunStatusPartial, report.Status)
	assert.Empty(t, store.stored, "no spread without a benchmark")
	require.NotEmpty(t, report.Errors)
	var foundSkip bool
	for _, e := range report.Errors {
		if e == "derive: DEPENDENCY_FAILED: spread needs benchmark, spot and stock for 2026-08-28" {
			foundSkip = true
		}
	}
	assert.True(t, foundSkip, "derive skip is reported, errors: %v", report.Errors)
}

func TestRunStaleSpotStillFeedsRetailButNotBenchmarkEstimate(t *testing.T) {
	date := marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(date)
	staleDate := marketDate("2026-08-26")
	spot.res = source.Stale("SI=F", domain.SpotPrice{Date: staleDate, PriceUsdPerOz: 32.10}, staleDate,
		source.Fail(source.CodeFetchError, "all spot providers failed"))
	store := &memSpreadStore{}
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, store)

	report := o.Run(context.Background(), date, domain.TriggerScheduled)

	assert.Equal(t, domain.RunStatusPartial, report.Status, "stale input degrades OK to PARTIAL")
	assert.Equal(t, domain.FreshnessStale, report.Sources[domain.SourceSpot].Freshness)
	require.NotNil(t, retail.gotSpot, "retail verification accepts a stale spot")
	assert.Nil(t, bench.gotSpot, "the estimator must not chain off a stale spot")
	assert.Len(t, store.stored, 1, "a stale spot still yields a spread record")
}

func TestRunErrorWhenEverythingFails(t *testing.T) {
	date := marketDate("2026-08-28")
	fail := source.Fail(source.CodeFetchError, "down")
	o, runs := newOrchestrator(
		&fakeFx{res: source.Unavailable[fetch.FxRates]("", fail)},
		&fakeSpot{res: source.Unavailable[domain.SpotPrice]("", fail)},
		&fakeStock{res: source.Unavailable[domain.StockSnapshot]("", fail)},
		&fakeBenchmark{res: source.Unavailable[domain.BenchmarkPrice]("", source.Fail(source.CodeDependencyFailed, "no fx"))},
		&fakeRetail{res: source.Unavailable[[]domain.RetailQuote]("", source.Fail(source.CodeDependencyFailed, "no spot"))},
		&memSpreadStore{},
	)

	report := o.Run(context.Background(), date, domain.TriggerScheduled)

	assert.Equal(t, domain.RunStatusError, report.Status)
	assert.Equal(t, 5, report.Failed)

	require.NotEmpty(t, runs.finalized)
	final := runs.finalized[len(runs.finalized)-1]
	assert.Equal(t, domain.RunStatusError, final.Status)
}

func TestBackfillSkipsWeekends(t *testing.T) {
	// 2026-08-28 is a Friday; the range covers Fri..Mon.
	from, to := marketDate("2026-08-28"), marketDate("2026-08-31")
	fx, spot, stock, bench, retail := liveFixtures(from)
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, &memSpreadStore{})

	reports := o.Backfill(context.Background(), from, to, domain.TriggerManual)

	require.Len(t, reports, 2)
	assert.Equal(t, marketDate("2026-08-28"), reports[0].Date)
	assert.Equal(t, marketDate("2026-08-31"), reports[1].Date)
}

func TestBackfillSkipsReconciledDays(t *testing.T) {
	from, to := marketDate("2026-08-27"), marketDate("2026-08-28")
	fx, spot, stock, bench, retail := liveFixtures(from)
	store := &memSpreadStore{existing: map[string]*domain.DailySpread{
		"2026-08-27": {Date: marketDate("2026-08-27")},
	}}
	o, _ := newOrchestrator(fx, spot, stock, bench, retail, store)

	reports := o.Backfill(context.Background(), from, to, domain.TriggerBackfill)

	require.Len(t, reports, 1)
	assert.Equal(t, marketDate("2026-08-28"), reports[0].Date)
}
