package store

import (
	"context"

	"github.com/dunamismax/joblistings/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedDatasetStore wraps a DatasetStore with a span per operation.
type TracedDatasetStore struct {
	next    DatasetStore
	backend string
	tracer  trace.Tracer
}

func WithTracing(next DatasetStore, backend string) *TracedDatasetStore {
	return &TracedDatasetStore{
		next:    next,
		backend: backend,
		tracer:  otel.Tracer("joblistings/store"),
	}
}

func (s *TracedDatasetStore) State() domain.DatasetState {
	return s.next.State()
}

func (s *TracedDatasetStore) Replace(ctx context.Context, records []domain.Record) error {
	ctx, span := s.tracer.Start(ctx, "store.replace", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("dataset.backend", s.backend),
		attribute.Int("dataset.records", len(records)),
	)
	defer span.End()

	if err := s.next.Replace(ctx, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replace failed")
		return err
	}
	return nil
}

func (s *TracedDatasetStore) ReadAll(ctx context.Context) ([]domain.Record, error) {
	ctx, span := s.tracer.Start(ctx, "store.read_all", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("dataset.backend", s.backend))
	defer span.End()

	records, err := s.next.ReadAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("dataset.records", len(records)))
	return records, nil
}
