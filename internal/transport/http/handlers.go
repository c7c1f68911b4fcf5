// Package http exposes the pipeline over a JSON API: a manual trigger for
// reconciliation cycles and read endpoints over the stored entities.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "silverpulse/internal/errors"
	"silverpulse/internal/metrics"
	"silverpulse/pkg/contracts/domain"
)

// Trigger starts reconciliation cycles. Implemented by the orchestrator.
type Trigger interface {
	Run(ctx context.Context, date time.Time, trigger string) domain.RunReport
	Backfill(ctx context.Context, from, to time.Time, trigger string) []domain.RunReport
}

// Store is the read surface the API serves from.
type Store interface {
	LatestSpread(ctx context.Context) (*domain.DailySpread, error)
	SpreadOn(ctx context.Context, date time.Time) (*domain.DailySpread, error)
	SpreadSeries(ctx context.Context, from, to time.Time) ([]domain.DailySpread, error)
	PSISeries(ctx context.Context, from, to time.Time) ([]float64, error)
	StockOn(ctx context.Context, date time.Time) (*domain.StockSnapshot, error)
	StockSeries(ctx context.Context, from, to time.Time) ([]domain.StockSnapshot, error)
	RetailQuotesOn(ctx context.Context, date time.Time, verifiedOnly bool) ([]domain.RetailQuote, error)
	ListFetchRuns(ctx context.Context, source string, limit int) ([]domain.FetchRun, error)
}

// Handler serves the API endpoints.
type Handler struct {
	store        Store
	trigger      Trigger
	trendWindow  int
	regimeWindow int
	logger       *slog.Logger
}

// NewHandler wires the API handler. trendWindow is the dashboard's PSI
// trend lookback in days; regimeWindow is the consecutive-decline span
// for the registered-stock drawdown signal.
func NewHandler(store Store, trigger Trigger, trendWindow, regimeWindow int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if trendWindow <= 0 {
		trendWindow = 30
	}
	if regimeWindow <= 0 {
		regimeWindow = 7
	}
	return &Handler{
		store:        store,
		trigger:      trigger,
		trendWindow:  trendWindow,
		regimeWindow: regimeWindow,
		logger:       logger.With("component", "http"),
	}
}

// Routes mounts the API routes on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/reconcile", h.Reconcile)
	r.Post("/backfill", h.Backfill)
	r.Get("/dashboard", h.Dashboard)
	r.Get("/spreads", h.Spreads)
	r.Get("/spreads/latest", h.LatestSpread)
	r.Get("/spreads/{date}", h.SpreadByDate)
	r.Get("/stocks", h.Stocks)
	r.Get("/retail", h.Retail)
	r.Get("/runs", h.Runs)
}

// Reconcile triggers a cycle for the requested date (default: today, UTC)
// and responds 200 with the run report regardless of the cycle's outcome.
// Partial and failed cycles are data, not transport errors.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.InvalidParameter("date", "must be YYYY-MM-DD")))
			return
		}
		date = parsed
	}

	report := h.trigger.Run(r.Context(), date, domain.TriggerManual)
	render.JSON(w, r, report)
}

// Backfill triggers one cycle per weekday in the requested range. Days
// that already have a derived record are skipped, so re-posting the same
// range is safe.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidParameter("from", "must be YYYY-MM-DD")))
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidParameter("to", "must be YYYY-MM-DD")))
		return
	}
	if to.Before(from) {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidParameter("to", "must not be before from")))
		return
	}

	reports := h.trigger.Backfill(r.Context(), from, to, domain.TriggerBackfill)
	render.JSON(w, r, map[string]any{"reports": reports, "count": len(reports)})
}

// DashboardResponse is the aggregate projection the UI renders.
type DashboardResponse struct {
	Latest            *domain.DailySpread   `json:"latest,omitempty"`
	Stock             *domain.StockSnapshot `json:"stock,omitempty"`
	Retail            []domain.RetailQuote  `json:"retail,omitempty"`
	PSITrend          *metrics.TrendSummary `json:"psi_trend,omitempty"`
	RegisteredDecline bool                  `json:"registered_decline"`
	AsOf              time.Time             `json:"as_of"`
}

// Dashboard returns the latest derived record with its stock snapshot,
// verified retail quotes, the PSI trend over the configured window and
// the registered-stock drawdown signal.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	latest, err := h.store.LatestSpread(ctx)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}

	resp := DashboardResponse{Latest: latest, AsOf: time.Now().UTC()}
	if latest != nil {
		if stock, err := h.store.StockOn(ctx, latest.Date); err == nil {
			resp.Stock = stock
		}
		if quotes, err := h.store.RetailQuotesOn(ctx, latest.Date, true); err == nil {
			resp.Retail = quotes
		}
		from := latest.Date.AddDate(0, 0, -h.trendWindow)
		if psi, err := h.store.PSISeries(ctx, from, latest.Date); err == nil {
			resp.PSITrend = metrics.AnalyzeTrend(psi)
		}
		// Calendar lookback is twice the window so weekends never starve
		// the series of points.
		stockFrom := latest.Date.AddDate(0, 0, -2*h.regimeWindow)
		if series, err := h.store.StockSeries(ctx, stockFrom, latest.Date); err == nil {
			registered := make([]float64, len(series))
			for i, s := range series {
				registered[i] = s.Registered
			}
			resp.RegisteredDecline = metrics.ConsecutiveDecline(registered, h.regimeWindow)
		}
	}

	render.JSON(w, r, resp)
}

// LatestSpread returns the most recent derived record.
func (h *Handler) LatestSpread(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.LatestSpread(r.Context())
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	if latest == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("daily spread")))
		return
	}
	render.JSON(w, r, latest)
}

// SpreadByDate returns the derived record for one date.
func (h *Handler) SpreadByDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.InvalidParameter("date", "must be YYYY-MM-DD")))
		return
	}
	spread, err := h.store.SpreadOn(r.Context(), date)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	if spread == nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.NotFoundError("daily spread")))
		return
	}
	render.JSON(w, r, spread)
}

// Spreads returns the derived records in a date range (default: trailing
// 90 days).
func (h *Handler) Spreads(w http.ResponseWriter, r *http.Request) {
	from, to, apiErr := dateRange(r, 90)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}
	series, err := h.store.SpreadSeries(r.Context(), from, to)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	render.JSON(w, r, map[string]any{"spreads": series, "count": len(series)})
}

// Stocks returns the stock snapshots in a date range (default: trailing
// 90 days).
func (h *Handler) Stocks(w http.ResponseWriter, r *http.Request) {
	from, to, apiErr := dateRange(r, 90)
	if apiErr != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apiErr))
		return
	}
	series, err := h.store.StockSeries(r.Context(), from, to)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	render.JSON(w, r, map[string]any{"stocks": series, "count": len(series)})
}

// Retail returns the quotes for one date (default: today). Unverified and
// failed quotes are included only with ?all=true.
func (h *Handler) Retail(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.InvalidParameter("date", "must be YYYY-MM-DD")))
			return
		}
		date = parsed
	}
	verifiedOnly := r.URL.Query().Get("all") != "true"

	quotes, err := h.store.RetailQuotesOn(r.Context(), date, verifiedOnly)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	render.JSON(w, r, map[string]any{"quotes": quotes, "count": len(quotes)})
}

// Runs returns the audit trail, newest first, optionally filtered by
// source.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("source")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			render.Render(w, r, apierrors.NewErrorResponse(
				apierrors.InvalidParameter("limit", "must be a positive integer")))
			return
		}
		limit = parsed
	}

	runs, err := h.store.ListFetchRuns(r.Context(), src, limit)
	if err != nil {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.QueryError(err)))
		return
	}
	render.JSON(w, r, map[string]any{"runs": runs, "count": len(runs)})
}

// dateRange parses the from/to query parameters with a trailing default
// window in days.
func dateRange(r *http.Request, defaultDays int) (from, to time.Time, apiErr *apierrors.APIError) {
	to = time.Now().UTC()
	from = to.AddDate(0, 0, -defaultDays)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return from, to, apierrors.InvalidParameter("from", "must be YYYY-MM-DD")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return from, to, apierrors.InvalidParameter("to", "must be YYYY-MM-DD")
		}
		to = parsed
	}
	if to.Before(from) {
		return from, to, apierrors.InvalidParameter("to", "must not be before from")
	}
	return from, to, nil
}
