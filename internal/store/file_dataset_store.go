package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/ingest"
)

// FileDatasetStore keeps the dataset as one CSV file on local disk.
type FileDatasetStore struct {
	path  string
	state stateTracker
}

func NewFileDatasetStore(path string) (*FileDatasetStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("dataset file path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dataset dir: %w", domain.ErrPersistence, err)
		}
	}

	present := true
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		present = false
	case err != nil:
		return nil, fmt.Errorf("%w: stat dataset file %s: %w", domain.ErrPersistence, path, err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: dataset path %s is a directory", domain.ErrPersistence, path)
	}

	s := &FileDatasetStore{path: path}
	s.state.set(stateFor(present))
	return s, nil
}

func (s *FileDatasetStore) Path() string {
	return s.path
}

func (s *FileDatasetStore) State() domain.DatasetState {
	return s.state.get()
}

func (s *FileDatasetStore) Replace(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := ingest.EncodeBytes(records)
	if err != nil {
		return fmt.Errorf("%w: encode dataset: %w", domain.ErrPersistence, err)
	}

	// Truncating rewrite, not rename: a concurrent reader may see a partial file.
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write dataset file %s: %w", domain.ErrPersistence, s.path, err)
	}

	s.state.set(domain.DatasetPresent)
	return nil
}

func (s *FileDatasetStore) ReadAll(ctx context.Context) ([]domain.Record, error) {
	if s.state.get() == domain.DatasetAbsent {
		return nil, domain.ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open dataset file %s: %w", domain.ErrPersistence, s.path, err)
	}
	defer f.Close()

	return decodeStored(f)
}
