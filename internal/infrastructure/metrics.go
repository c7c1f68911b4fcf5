package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the acquisition pipeline.
type Metrics struct {
	FetchRunsTotal    *prometheus.CounterVec
	RowsUpsertedTotal *prometheus.CounterVec
	ProviderAttempts  *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
}

// NewMetrics registers the pipeline instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry so repeated construction does not panic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silverpulse_fetch_runs_total",
			Help: "Fetch runs by source and final status.",
		}, []string{"source", "status"}),
		RowsUpsertedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silverpulse_rows_upserted_total",
			Help: "Rows written by entity and operation (insert/update).",
		}, []string{"entity", "op"}),
		ProviderAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "silverpulse_provider_attempts_total",
			Help: "Provider chain attempts by chain, provider and outcome.",
		}, []string{"chain", "provider", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "silverpulse_fetch_duration_seconds",
			Help:    "Wall time of one source fetch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}
}
