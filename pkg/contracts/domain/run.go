package domain

import (
	"time"
)

// RunStatus represents the lifecycle state of a fetch run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusOK      RunStatus = "OK"
	RunStatusPartial RunStatus = "PARTIAL"
	RunStatusError   RunStatus = "ERROR"
)

// Source identifiers for fetch runs and run reports.
const (
	SourceStock     = "stock"
	SourceFx        = "fx"
	SourceBenchmark = "benchmark"
	SourceSpot      = "spot"
	SourceRetail    = "retail"
	SourceReconcile = "reconcile"
)

// Trigger origins.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerBackfill  = "backfill"
)

// FetchRun is the durable audit record for one adapter invocation. It is
// created with status RUNNING before the adapter does any work and finalized
// exactly once, so a trail exists even when no data row was ever written.
type FetchRun struct {
	ID           string     `json:"id" validate:"required,uuid"`
	Source       string     `json:"source" validate:"required"`
	Status       RunStatus  `json:"status"`
	TriggeredBy  string     `json:"triggered_by"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Inserted     int        `json:"inserted"`
	Updated      int        `json:"updated"`
	Failed       int        `json:"failed"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// SourceFreshness tells a report consumer whether a value came from a live
// fetch, from the most recent stored row (stale fallback), or not at all.
type SourceFreshness string

const (
	FreshnessLive        SourceFreshness = "live"
	FreshnessStale       SourceFreshness = "stale-fallback"
	FreshnessUnavailable SourceFreshness = "unavailable"
)

// SourceReport is the per-source section of a run report.
type SourceReport struct {
	Freshness SourceFreshness `json:"freshness"`
	AsOf      *time.Time      `json:"as_of,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RunReport is the structured result of one reconciliation run. The trigger
// interface always returns one of these; it never surfaces a raw error.
type RunReport struct {
	RunID    string                  `json:"run_id"`
	Date     time.Time               `json:"date"`
	Status   RunStatus               `json:"status"`
	Sources  map[string]SourceReport `json:"sources"`
	Inserted int                     `json:"inserted"`
	Updated  int                     `json:"updated"`
	Failed   int                     `json:"failed"`
	Errors   []string                `json:"errors,omitempty"`
	Duration time.Duration           `json:"duration"`
}
