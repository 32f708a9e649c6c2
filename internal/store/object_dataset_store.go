package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/ingest"
)

const DefaultDatasetObjectKey = "datasets/current.csv"

type objectClient interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectDatasetStore keeps the dataset as a single CSV object in a bucket.
type ObjectDatasetStore struct {
	client    objectClient
	objectKey string
	state     stateTracker
}

func NewObjectDatasetStore(ctx context.Context, client objectClient, objectKey string) (*ObjectDatasetStore, error) {
	if client == nil {
		return nil, errors.New("object storage client is required")
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		objectKey = DefaultDatasetObjectKey
	}

	exists, err := client.ObjectExists(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: check dataset object: %w", domain.ErrPersistence, err)
	}

	s := &ObjectDatasetStore{client: client, objectKey: objectKey}
	s.state.set(stateFor(exists))
	return s, nil
}

func (s *ObjectDatasetStore) State() domain.DatasetState {
	return s.state.get()
}

func (s *ObjectDatasetStore) Replace(ctx context.Context, records []domain.Record) error {
	data, err := ingest.EncodeBytes(records)
	if err != nil {
		return fmt.Errorf("%w: encode dataset: %w", domain.ErrPersistence, err)
	}

	if err := s.client.WriteObject(ctx, s.objectKey, data, "text/csv; charset=utf-8"); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.state.set(domain.DatasetPresent)
	return nil
}

func (s *ObjectDatasetStore) ReadAll(ctx context.Context) ([]domain.Record, error) {
	if s.state.get() == domain.DatasetAbsent {
		return nil, domain.ErrNotFound
	}

	data, err := s.client.ReadObject(ctx, s.objectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return decodeStored(bytes.NewReader(data))
}
