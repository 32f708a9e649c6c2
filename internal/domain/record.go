package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Column maps an external CSV header to the record field it populates.
type Column struct {
	Header string
	Field  string
}

// Schema is the fixed, ordered set of required record columns.
var Schema = []Column{
	{Header: "Proposed Job Title", Field: "proposed_job_title"},
	{Header: "Image", Field: "image"},
	{Header: "Job Sector", Field: "job_sector"},
	{Header: "Select Province", Field: "province"},
	{Header: "Job score", Field: "job_score"},
	{Header: "Job Approximate Time", Field: "job_approximate_time"},
	{Header: "Settlement Score", Field: "settlement_score"},
	{Header: "Settlement Approximate Time", Field: "settlement_approximate_time"},
}

// Headers returns the canonical header row in schema order.
func Headers() []string {
	out := make([]string, len(Schema))
	for i, col := range Schema {
		out[i] = col.Header
	}
	return out
}

type Record struct {
	ProposedJobTitle          string
	Image                     string
	JobSector                 string
	Province                  string
	JobScore                  string
	JobApproximateTime        string
	SettlementScore           string
	SettlementApproximateTime string
}

// fields returns pointers to the record fields in schema order.
func (r *Record) fields() []*string {
	return []*string{
		&r.ProposedJobTitle,
		&r.Image,
		&r.JobSector,
		&r.Province,
		&r.JobScore,
		&r.JobApproximateTime,
		&r.SettlementScore,
		&r.SettlementApproximateTime,
	}
}

// Values returns the field values in schema order.
func (r Record) Values() []string {
	ptrs := r.fields()
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// RecordFromRow builds a Record from a header-keyed row. Every schema header
// must be present; values are copied verbatim.
func RecordFromRow(row map[string]string) (Record, error) {
	var (
		rec     Record
		missing []string
	)
	ptrs := rec.fields()
	for i, col := range Schema {
		value, ok := row[col.Header]
		if !ok {
			missing = append(missing, col.Header)
			continue
		}
		*ptrs[i] = value
	}
	if len(missing) > 0 {
		return Record{}, &SchemaViolationError{Missing: missing}
	}
	return rec, nil
}

// MissingHeaders reports which schema headers are absent from header.
func MissingHeaders(header []string) []string {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		seen[h] = struct{}{}
	}
	var missing []string
	for _, col := range Schema {
		if _, ok := seen[col.Header]; !ok {
			missing = append(missing, col.Header)
		}
	}
	return missing
}

// MarshalJSON encodes the record as an object keyed by the canonical headers,
// keeping schema order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, value := range r.Values() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(Schema[i].Header)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON is the inverse of MarshalJSON. Every canonical header must be
// present with a string value.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	row := make(map[string]string, len(raw))
	for key, v := range raw {
		if v != nil {
			row[key] = *v
		}
	}

	rec, err := RecordFromRow(row)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func formatHeaders(headers []string) string {
	quoted := make([]string, len(headers))
	for i, h := range headers {
		quoted[i] = "'" + h + "'"
	}
	return strings.Join(quoted, ", ")
}
