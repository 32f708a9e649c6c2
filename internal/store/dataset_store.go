package store

import (
	"context"
	"sync"

	"github.com/dunamismax/joblistings/internal/domain"
)

// DatasetStore holds the single current dataset. Replace rewrites it in full;
// ReadAll re-validates every stored row.
type DatasetStore interface {
	Replace(ctx context.Context, records []domain.Record) error
	ReadAll(ctx context.Context) ([]domain.Record, error)
	State() domain.DatasetState
}

// stateTracker guards the Absent/Present value only. The backing medium itself
// is not locked.
type stateTracker struct {
	mu    sync.RWMutex
	state domain.DatasetState
}

func (t *stateTracker) get() domain.DatasetState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state == "" {
		return domain.DatasetAbsent
	}
	return t.state
}

func (t *stateTracker) set(state domain.DatasetState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

func stateFor(present bool) domain.DatasetState {
	if present {
		return domain.DatasetPresent
	}
	return domain.DatasetAbsent
}
