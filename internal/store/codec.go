package store

import (
	"errors"
	"fmt"
	"io"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/ingest"
)

// decodeStored re-validates persisted CSV. Schema violations pass through so
// callers can tell corruption from an unreadable medium.
func decodeStored(r io.Reader) ([]domain.Record, error) {
	records, err := ingest.Decode(r)
	if err == nil {
		return records, nil
	}
	if errors.Is(err, domain.ErrSchemaViolation) {
		return nil, fmt.Errorf("stored dataset: %w", err)
	}
	return nil, fmt.Errorf("%w: read stored dataset: %w", domain.ErrPersistence, err)
}
