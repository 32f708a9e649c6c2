package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/ingest"
)

// MemoryDatasetStore keeps the encoded CSV in process memory. Nothing survives
// a restart.
type MemoryDatasetStore struct {
	mu      sync.RWMutex
	data    []byte
	present bool
}

func NewMemoryDatasetStore() *MemoryDatasetStore {
	return &MemoryDatasetStore{}
}

func (s *MemoryDatasetStore) State() domain.DatasetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stateFor(s.present)
}

func (s *MemoryDatasetStore) Replace(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := ingest.EncodeBytes(records)
	if err != nil {
		return fmt.Errorf("%w: encode dataset: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.present = true
	return nil
}

func (s *MemoryDatasetStore) ReadAll(ctx context.Context) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if !s.present {
		s.mu.RUnlock()
		return nil, domain.ErrNotFound
	}
	data := s.data
	s.mu.RUnlock()

	return decodeStored(bytes.NewReader(data))
}
