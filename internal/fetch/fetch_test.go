package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"silverpulse/internal/infrastructure"
	"silverpulse/internal/runtracker"
	"silverpulse/pkg/contracts/domain"
)

// memRunStore captures run records without a database.
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

func (m *memRunStore) lastFinal() *domain.FetchRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.finalized) == 0 {
		return nil
	}
	run := m.finalized[len(m.finalized)-1]
	return &run
}

func newTestTracker() (*runtracker.Tracker, *memRunStore) {
	store := &memRunStore{}
	return runtracker.New(store, nil, nil), store
}

func newTestMetrics() *infrastructure.Metrics {
	return infrastructure.NewMetrics(prometheus.NewRegistry())
}

func marketDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}
