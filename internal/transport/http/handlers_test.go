package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silverpulse/pkg/contracts/domain"
)

type fakeStore struct {
	latest      *domain.DailySpread
	stock       *domain.StockSnapshot
	stockSeries []domain.StockSnapshot
	quotes      []domain.RetailQuote
	psi         []float64
	runs        []domain.FetchRun

	gotVerifiedOnly bool
	gotSource       string
	gotLimit        int
}

func (f *fakeStore) LatestSpread(context.Context) (*domain.DailySpread, error) {
	return f.latest, nil
}

func (f *fakeStore) SpreadOn(context.Context, time.Time) (*domain.DailySpread, error) {
	return f.latest, nil
}

func (f *fakeStore) SpreadSeries(context.Context, time.Time, time.Time) ([]domain.DailySpread, error) {
	if f.latest == nil {
		return nil, nil
	}
	return []domain.DailySpread{*f.latest}, nil
}

func (f *fakeStore) PSISeries(context.Context, time.Time, time.Time) ([]float64, error) {
	return f.psi, nil
}

func (f *fakeStore) StockOn(context.Context, time.Time) (*domain.StockSnapshot, error) {
	return f.stock, nil
}

func (f *fakeStore) StockSeries(context.Context, time.Time, time.Time) ([]domain.StockSnapshot, error) {
	if f.stockSeries != nil {
		return f.stockSeries, nil
	}
	if f.stock == nil {
		return nil, nil
	}
	return []domain.StockSnapshot{*f.stock}, nil
}

func (f *fakeStore) RetailQuotesOn(_ context.Context, _ time.Time, verifiedOnly bool) ([]domain.RetailQuote, error) {
	f.gotVerifiedOnly = verifiedOnly
	return f.quotes, nil
}

func (f *fakeStore) ListFetchRuns(_ context.Context, source string, limit int) ([]domain.FetchRun, error) {
	f.gotSource, f.gotLimit = source, limit
	return f.runs, nil
}

type fakeTrigger struct {
	gotDate    time.Time
	gotTrigger string
	report     domain.RunReport
}

func (f *fakeTrigger) Run(_ context.Context, date time.Time, trigger string) domain.RunReport {
	f.gotDate, f.gotTrigger = date, trigger
	f.report.Date = date
	return f.report
}

func (f *fakeTrigger) Backfill(_ context.Context, from, to time.Time, trigger string) []domain.RunReport {
	f.gotDate, f.gotTrigger = from, trigger
	var reports []domain.RunReport
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		r := f.report
		r.Date = d
		reports = append(reports, r)
	}
	return reports
}

func newTestServer(t *testing.T, store *fakeStore, trigger *fakeTrigger) *httptest.Server {
	t.Helper()
	h := NewHandler(store, trigger, 30, 3, nil)
	srv := httptest.NewServer(NewRouter(h, nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	var body map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestReconcileAlwaysRespondsOK(t *testing.T) {
	trigger := &fakeTrigger{report: domain.RunReport{
		RunID:  "run-1",
		Status: domain.RunStatusPartial,
		Failed: 2,
	}}
	srv := newTestServer(t, &fakeStore{}, trigger)

	resp, err := http.Post(srv.URL+"/api/reconcile?date=2026-08-28", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "a degraded cycle is still a successful trigger")

	var report domain.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, domain.RunStatusPartial, report.Status)
	assert.Equal(t, "2026-08-28", trigger.gotDate.Format("2006-01-02"))
	assert.Equal(t, domain.TriggerManual, trigger.gotTrigger)
}

func TestReconcileRejectsBadDate(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp, err := http.Post(srv.URL+"/api/reconcile?date=yesterday", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardProjection(t *testing.T) {
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	psi := 1.2
	store := &fakeStore{
		latest: &domain.DailySpread{Date: date, SpreadUsdPerOz: 0.30, PSI: &psi, StressLevel: domain.StressLow},
		stock:  &domain.StockSnapshot{Date: date, Registered: 100e6, Combined: 400e6},
		quotes: []domain.RetailQuote{{Date: date, Provider: "stonex-bullion", Status: domain.VerificationVerified}},
		psi:    []float64{1.0, 1.1, 1.2},
	}
	srv := newTestServer(t, store, &fakeTrigger{})

	var body DashboardResponse
	resp := getJSON(t, srv.URL+"/api/dashboard", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body.Latest)
	assert.InDelta(t, 0.30, body.Latest.SpreadUsdPerOz, 1e-9)
	require.NotNil(t, body.Stock)
	require.Len(t, body.Retail, 1)
	assert.True(t, store.gotVerifiedOnly, "dashboard shows verified quotes only")
	assert.False(t, body.RegisteredDecline)
}

func TestDashboardFlagsRegisteredDecline(t *testing.T) {
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		latest: &domain.DailySpread{Date: date, SpreadUsdPerOz: 0.30},
		stockSeries: []domain.StockSnapshot{
			{Registered: 110e6},
			{Registered: 105e6},
			{Registered: 100e6},
		},
	}
	srv := newTestServer(t, store, &fakeTrigger{})

	var body DashboardResponse
	resp := getJSON(t, srv.URL+"/api/dashboard", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.RegisteredDecline, "three straight drawdowns trip the signal")
}

func TestLatestSpreadNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp := getJSON(t, srv.URL+"/api/spreads/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackfillRange(t *testing.T) {
	trigger := &fakeTrigger{report: domain.RunReport{Status: domain.RunStatusOK}}
	srv := newTestServer(t, &fakeStore{}, trigger)

	resp, err := http.Post(srv.URL+"/api/backfill?from=2026-08-27&to=2026-08-28", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Reports []domain.RunReport `json:"reports"`
		Count   int                `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, domain.TriggerBackfill, trigger.gotTrigger)
}

func TestBackfillRejectsMissingRange(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp, err := http.Post(srv.URL+"/api/backfill", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpreadByDate(t *testing.T) {
	store := &fakeStore{latest: &domain.DailySpread{
		Date:              time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		BenchmarkUsdPerOz: 32.80,
		SpotUsdPerOz:      32.50,
		SpreadUsdPerOz:    0.30,
	}}
	srv := newTestServer(t, store, &fakeTrigger{})

	var spread domain.DailySpread
	resp := getJSON(t, srv.URL+"/api/spreads/2026-08-28", &spread)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.30, spread.SpreadUsdPerOz, 1e-9)

	resp = getJSON(t, srv.URL+"/api/spreads/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpreadsRejectsInvertedRange(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp := getJSON(t, srv.URL+"/api/spreads?from=2026-08-28&to=2026-08-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetailAllFlag(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(t, store, &fakeTrigger{})

	getJSON(t, srv.URL+"/api/retail?date=2026-08-28", nil)
	assert.True(t, store.gotVerifiedOnly)

	getJSON(t, srv.URL+"/api/retail?date=2026-08-28&all=true", nil)
	assert.False(t, store.gotVerifiedOnly)
}

func TestRunsFilterAndLimit(t *testing.T) {
	store := &fakeStore{runs: []domain.FetchRun{{ID: "a", Source: domain.SourceFx}}}
	srv := newTestServer(t, store, &fakeTrigger{})

	var body map[string]json.RawMessage
	resp := getJSON(t, srv.URL+"/api/runs?source=fx&limit=5", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fx", store.gotSource)
	assert.Equal(t, 5, store.gotLimit)
}

func TestRunsRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp := getJSON(t, srv.URL+"/api/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv := newTestServer(t, &fakeStore{}, &fakeTrigger{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
