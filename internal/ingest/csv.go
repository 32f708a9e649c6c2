package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dunamismax/joblistings/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses UTF-8 CSV text with a header row into records. The payload is
// accepted or rejected as a whole.
func Decode(r io.Reader) ([]domain.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv payload: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, &domain.SchemaViolationError{Reason: "payload is not valid UTF-8 text"}
	}

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(keepQuotedCRLF(data))))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &domain.SchemaViolationError{Missing: domain.Headers(), Reason: "payload has no header row"}
	}
	if err != nil {
		return nil, malformed(0, err)
	}
	if missing := domain.MissingHeaders(header); len(missing) > 0 {
		return nil, &domain.SchemaViolationError{Missing: missing}
	}

	records := make([]domain.Record, 0)
	for rowNum := 1; ; rowNum++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed(rowNum, err)
		}

		rec, err := domain.RecordFromRow(rowMap(header, fields))
		if err != nil {
			var sv *domain.SchemaViolationError
			if errors.As(err, &sv) {
				sv.Row = rowNum
			}
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// Encode writes the canonical header followed by one row per record.
func Encode(w io.Writer, records []domain.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(domain.Headers()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range records {
		if err := writer.Write(rec.Values()); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(records []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// keepQuotedCRLF doubles the CR of each CRLF inside a quoted field.
// encoding/csv folds a line-ending CRLF to LF, so the doubled pair reads back
// as the submitted CRLF. Record terminators are left alone.
func keepQuotedCRLF(data []byte) []byte {
	if !bytes.Contains(data, []byte("\r\n")) {
		return data
	}
	out := make([]byte, 0, len(data)+bytes.Count(data, []byte("\r\n")))
	quoted := false
	for i, b := range data {
		switch {
		case b == '"':
			quoted = !quoted
		case b == '\r' && quoted && i+1 < len(data) && data[i+1] == '\n':
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	return out
}

// rowMap keys fields by header. Later duplicate headers win; columns past the
// end of a short row stay absent.
func rowMap(header, fields []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i >= len(fields) {
			break
		}
		row[name] = fields[i]
	}
	return row
}

func malformed(row int, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &domain.SchemaViolationError{
			Row:    row,
			Reason: fmt.Sprintf("malformed csv at line %d: %v", parseErr.Line, parseErr.Err),
		}
	}
	return &domain.SchemaViolationError{Row: row, Reason: err.Error()}
}
