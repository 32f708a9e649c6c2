package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrSchemaViolation = errors.New("schema violation")
	ErrPersistence     = errors.New("persistence error")
	ErrNotFound        = errors.New("dataset not found")
)

// SchemaViolationError describes a row that could not be mapped to a Record.
// Row is the 1-based data row; zero means the header row.
type SchemaViolationError struct {
	Row     int
	Missing []string
	Reason  string
}

func (e *SchemaViolationError) Error() string {
	var b strings.Builder
	b.WriteString("schema violation")
	if e.Row > 0 {
		fmt.Fprintf(&b, " at row %d", e.Row)
	} else if len(e.Missing) > 0 {
		b.WriteString(" in header")
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing required column(s) ")
		b.WriteString(formatHeaders(e.Missing))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

// ValidateFilename rejects upload names without a .csv suffix.
func ValidateFilename(name string) error {
	if !strings.HasSuffix(name, ".csv") {
		return fmt.Errorf("%w: %q is not a .csv file", ErrInvalidFileType, name)
	}
	return nil
}
