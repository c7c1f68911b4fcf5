package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"silverpulse/internal/config"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

type memStockStore struct {
	stored []domain.StockSnapshot
	prior  *domain.StockSnapshot
}

func (m *memStockStore) UpsertStockSnapshot(_ context.Context, snap domain.StockSnapshot) (bool, error) {
	m.stored = append(m.stored, snap)
	return true, nil
}

func (m *memStockStore) LatestStockBefore(_ context.Context, _ time.Time) (*domain.StockSnapshot, error) {
	return m.prior, nil
}

func stockWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Silver Stocks"))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Silver Stocks", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func newStockFetcher(t *testing.T, reportURL string, store *memStockStore) *StockFetcher {
	t.Helper()
	cfg := config.StockSourceConfig{
		ReportURL:     reportURL,
		Timeout:       2 * time.Second,
		MinRegistered: 1_000_000,
		MaxRegistered: 1_000_000_000,
		MinEligible:   1_000_000,
		MaxEligible:   1_000_000_000,
	}
	tracker, _ := newTestTracker()
	return NewStockFetcher(cfg, NewHTTPClient(0), store, tracker, newTestMetrics(), nil)
}

func TestStockFetchStoresSnapshotWithDeltas(t *testing.T) {
	workbook := stockWorkbook(t, [][]any{
		{"Warehouse", "Registered", "Eligible", "Total"},
		{"Brinks Inc", "30,000,000", "70,000,000", "100,000,000"},
		{"Loomis", "10,000,000", "20,000,000", "30,000,000"},
		{"TOTAL", "40,000,000", "90,000,000", "130,000,000"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(workbook)
	}))
	defer srv.Close()

	store := &memStockStore{prior: &domain.StockSnapshot{
		Date:       marketDate("2026-08-27"),
		Registered: 39_000_000,
		Eligible:   91_000_000,
		Combined:   130_000_000,
	}}
	f := newStockFetcher(t, srv.URL, store)

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusLive, res.Status)
	snap := res.Value
	assert.Equal(t, 40_000_000.0, snap.Registered)
	assert.Equal(t, 90_000_000.0, snap.Eligible)
	assert.Equal(t, 130_000_000.0, snap.Combined)
	assert.InDelta(t, 40.0/130.0*100, snap.RegisteredPercent, 1e-9)
	assert.Len(t, snap.Warehouses, 2)

	require.NotNil(t, snap.DeltaRegistered)
	assert.InDelta(t, 1_000_000, *snap.DeltaRegistered, 1e-9)
	require.NotNil(t, snap.DeltaEligible)
	assert.InDelta(t, -1_000_000, *snap.DeltaEligible, 1e-9)
	require.NotNil(t, snap.DeltaCombined)
	assert.InDelta(t, 0, *snap.DeltaCombined, 1e-9)

	require.Len(t, store.stored, 1)
}

func TestStockFetchFirstSnapshotHasNoDeltas(t *testing.T) {
	workbook := stockWorkbook(t, [][]any{
		{"Warehouse", "Registered", "Eligible"},
		{"Brinks Inc", "30,000,000", "70,000,000"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(workbook)
	}))
	defer srv.Close()

	f := newStockFetcher(t, srv.URL, &memStockStore{})

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusLive, res.Status)
	assert.Nil(t, res.Value.DeltaRegistered)
	assert.Nil(t, res.Value.DeltaCombined)
}

func TestStockFetchDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &memStockStore{}
	f := newStockFetcher(t, srv.URL, store)

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusUnavailable, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, source.CodeFetchError, res.Failure.Code)
	assert.Empty(t, store.stored)
}

func TestStockFetchParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("this is not a workbook"))
	}))
	defer srv.Close()

	f := newStockFetcher(t, srv.URL, &memStockStore{})

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusUnavailable, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, source.CodeParseError, res.Failure.Code)
}

func TestStockFetchRunRecordsWarnings(t *testing.T) {
	// Registered far below the plausibility floor: stored, but PARTIAL.
	workbook := stockWorkbook(t, [][]any{
		{"Warehouse", "Registered", "Eligible"},
		{"Brinks Inc", "5,000,000", "70,000,000"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(workbook)
	}))
	defer srv.Close()

	cfg := config.StockSourceConfig{
		ReportURL:     srv.URL,
		Timeout:       2 * time.Second,
		MinRegistered: 10_000_000,
		MaxRegistered: 1_000_000_000,
		MinEligible:   1_000_000,
		MaxEligible:   1_000_000_000,
	}
	tracker, runs := newTestTracker()
	store := &memStockStore{}
	f := NewStockFetcher(cfg, NewHTTPClient(0), store, tracker, newTestMetrics(), nil)

	res := f.Fetch(context.Background(), marketDate("2026-08-28"), domain.TriggerScheduled)

	require.Equal(t, source.StatusLive, res.Status, "implausible totals are stored, flagged")
	assert.NotEmpty(t, res.Value.Warnings)
	final := runs.lastFinal()
	require.NotNil(t, final)
	assert.Equal(t, domain.RunStatusPartial, final.Status)
}
