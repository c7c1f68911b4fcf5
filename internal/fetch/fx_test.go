package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silverpulse/internal/config"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

type memFxStore struct {
	rates []domain.FxRate
	prior map[string]*domain.FxRate
}

func (m *memFxStore) UpsertFxRate(_ context.Context, rate domain.FxRate) (bool, error) {
	m.rates = append(m.rates, rate)
	return true, nil
}

func (m *memFxStore) LatestFxBefore(_ context.Context, _ time.Time, pair string) (*domain.FxRate, error) {
	if m.prior == nil {
		return nil, nil
	}
	return m.prior[pair], nil
}

const ecbFixture = `<?xml version="1.0" encoding="UTF-8"?>
<gesmes:Envelope xmlns:gesmes="http://www.gesmes.org/xml/2002-08-01" xmlns="http://www.ecb.int/vocabulary/2002-08-01/eurofxref">
  <Cube>
    <Cube time='2026-08-28'>
      <Cube currency='USD' rate='1.0850'/>
      <Cube currency='CNY' rate='7.8120'/>
      <Cube currency='JPY' rate='162.41'/>
    </Cube>
  </Cube>
</gesmes:Envelope>`

func newFxFetcher(t *testing.T, cfg config.FXSourceConfig, store *memFxStore) *FxFetcher {
	t.Helper()
	sources := config.SourcesConfig{FetchTimeout: 2 * time.Second, StaleMaxAge: 168 * time.Hour}
	tracker, _ := newTestTracker()
	return NewFxFetcher(cfg, sources, NewHTTPClient(0), store, tracker, newTestMetrics(), nil)
}

func TestFxPrimaryProviderWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		w.Write([]byte(`{"success":true,"rates":{"CNY":7.21,"EUR":0.92}}`))
	}))
	defer srv.Close()

	store := &memFxStore{}
	f := newFxFetcher(t, config.FXSourceConfig{RateHostURL: srv.URL}, store)

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerManual)

	require.Equal(t, source.StatusLive, res.Status)
	assert.InDelta(t, 7.21, res.Value.UsdCny, 1e-9)
	assert.InDelta(t, 0.92, res.Value.UsdEur, 1e-9)
	assert.Equal(t, "exchangerate.host", res.Source)
	require.Len(t, store.rates, 2, "both pairs stored")
}

func TestFxFallsBackToECBCrossRate(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	ecb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(ecbFixture))
	}))
	defer ecb.Close()

	store := &memFxStore{}
	f := newFxFetcher(t, config.FXSourceConfig{
		RateHostURL:    broken.URL,
		FrankfurterURL: broken.URL,
		ECBURL:         ecb.URL,
	}, store)

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusLive, res.Status)
	assert.Equal(t, "ecb", res.Source)
	// USD/CNY crossed through EUR: 7.8120 / 1.0850.
	assert.InDelta(t, 7.8120/1.0850, res.Value.UsdCny, 1e-9)
	assert.InDelta(t, 1/1.0850, res.Value.UsdEur, 1e-9)
}

func TestFxImplausibleRateRejected(t *testing.T) {
	bogus := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":true,"rates":{"CNY":721.0,"EUR":0.92}}`))
	}))
	defer bogus.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"rates":{"CNY":7.18,"EUR":0.93}}`))
	}))
	defer good.Close()

	f := newFxFetcher(t, config.FXSourceConfig{
		RateHostURL:    bogus.URL,
		FrankfurterURL: good.URL,
	}, &memFxStore{})

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerManual)

	require.Equal(t, source.StatusLive, res.Status)
	assert.Equal(t, "frankfurter", res.Source)
	assert.InDelta(t, 7.18, res.Value.UsdCny, 1e-9)
}

func TestFxStaleFallbackWhenChainExhausted(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	recent := marketDate("2026-08-27")
	store := &memFxStore{prior: map[string]*domain.FxRate{
		domain.PairUsdCny: {Date: recent, Pair: domain.PairUsdCny, Rate: 7.20, Source: "frankfurter"},
		domain.PairUsdEur: {Date: recent, Pair: domain.PairUsdEur, Rate: 0.92, Source: "frankfurter"},
	}}
	f := newFxFetcher(t, config.FXSourceConfig{
		RateHostURL:    down.URL,
		FrankfurterURL: down.URL,
		ECBURL:         down.URL,
	}, store)
	f.staleMaxAge = 100 * 365 * 24 * time.Hour

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusStale, res.Status)
	assert.InDelta(t, 7.20, res.Value.UsdCny, 1e-9)
	require.NotNil(t, res.Failure)
	assert.Equal(t, source.CodeFetchError, res.Failure.Code)
}

func TestFxUnavailableWhenNoHistory(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	f := newFxFetcher(t, config.FXSourceConfig{
		RateHostURL:    down.URL,
		FrankfurterURL: down.URL,
		ECBURL:         down.URL,
	}, &memFxStore{})

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	assert.Equal(t, source.StatusUnavailable, res.Status)
	assert.False(t, res.OK())
}
