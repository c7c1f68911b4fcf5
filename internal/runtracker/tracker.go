// Package runtracker manages the FetchRun audit lifecycle. A run is created
// with status RUNNING before its adapter does any work and finalized exactly
// once, so the audit trail exists even when the adapter crashes before
// writing a single row. Tracking failures are logged and swallowed: losing
// an audit record must never lose market data.
package runtracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"silverpulse/pkg/contracts/domain"
)

// RunStore is the persistence surface the tracker needs.
type RunStore interface {
	CreateFetchRun(ctx context.Context, run domain.FetchRun) error
	FinalizeFetchRun(ctx context.Context, run domain.FetchRun) error
}

// Notifier receives run state changes. The websocket hub implements this to
// push live status to connected clients.
type Notifier interface {
	NotifyRun(run domain.FetchRun)
}

// Tracker creates and finalizes fetch runs.
type Tracker struct {
	store    RunStore
	notifier Notifier
	logger   *slog.Logger
}

// New builds a Tracker. The notifier may be nil.
func New(store RunStore, notifier Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "runtracker"),
	}
}

// Run is one in-flight fetch run handle.
type Run struct {
	tracker *Tracker

	mu        sync.Mutex
	run       domain.FetchRun
	finalized bool
}

// Begin persists a RUNNING record and returns its handle.
func (t *Tracker) Begin(ctx context.Context, source, triggeredBy string) *Run {
	run := domain.FetchRun{
		ID:          uuid.New().String(),
		Source:      source,
		Status:      domain.RunStatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
	}
	if err := t.store.CreateFetchRun(ctx, run); err != nil {
		t.logger.ErrorContext(ctx, "failed to create fetch run",
			slog.String("source", source),
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
	if t.notifier != nil {
		t.notifier.NotifyRun(run)
	}
	return &Run{tracker: t, run: run}
}

// ID returns the run's identifier.
func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.ID
}

// Finish records the terminal status and counters. Only the first call
// takes effect; later calls are ignored so deferred cleanup paths cannot
// overwrite the real outcome.
func (r *Run) Finish(ctx context.Context, status domain.RunStatus, inserted, updated, failed int, errMessage string) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.finalized = true
	now := time.Now().UTC()
	r.run.Status = status
	r.run.FinishedAt = &now
	r.run.Inserted = inserted
	r.run.Updated = updated
	r.run.Failed = failed
	r.run.ErrorMessage = truncate(errMessage, 1000)
	run := r.run
	r.mu.Unlock()

	if err := r.tracker.store.FinalizeFetchRun(ctx, run); err != nil {
		r.tracker.logger.ErrorContext(ctx, "failed to finalize fetch run",
			slog.String("source", run.Source),
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
	if r.tracker.notifier != nil {
		r.tracker.notifier.NotifyRun(run)
	}
	r.tracker.logger.InfoContext(ctx, "fetch run finished",
		slog.String("source", run.Source),
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("inserted", run.Inserted),
		slog.Int("updated", run.Updated),
		slog.Int("failed", run.Failed))
}

// Abort marks the run ERROR. Intended for defer: it is a no-op after a
// successful Finish.
func (r *Run) Abort(ctx context.Context, errMessage string) {
	r.Finish(ctx, domain.RunStatusError, 0, 0, 1, errMessage)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
