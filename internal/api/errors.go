package api

import (
	"errors"
	"net/http"

	"github.com/dunamismax/joblistings/internal/domain"
)

type operation string

const (
	opUpload operation = "upload"
	opFetch  operation = "fetch"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// classify maps an operation error to a status code, a stable error kind and
// the detail shown to the client.
func classify(op operation, err error) (int, string, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "payload_too_large", "Uploaded file exceeds the maximum allowed size."
	case errors.Is(err, errMissingFile), errors.Is(err, errMalformedUpload):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, domain.ErrInvalidFileType):
		return http.StatusBadRequest, "invalid_file_type", "Invalid file format. Please upload a CSV file."
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", "CSV file not found. Please upload a file first."
	case errors.Is(err, domain.ErrSchemaViolation) && op == opUpload:
		return http.StatusUnprocessableEntity, "schema_violation", err.Error()
	case errors.Is(err, domain.ErrSchemaViolation):
		return http.StatusInternalServerError, "schema_violation", "Stored dataset is corrupted: " + err.Error()
	case errors.Is(err, domain.ErrPersistence) && op == opUpload:
		return http.StatusInternalServerError, "persistence_error", "Failed to store the uploaded dataset."
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, "persistence_error", "Failed to read the stored dataset."
	default:
		return http.StatusInternalServerError, "internal_error", "Failed to process request."
	}
}

func (s *Server) writeError(w http.ResponseWriter, op operation, err error) {
	status, kind, detail := classify(op, err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s failed kind=%s err=%v", op, kind, err)
	}
	writeJSON(w, status, errorBody{Error: kind, Detail: detail})
}

func outcomeLabel(err error) string {
	_, kind, _ := classify(opUpload, err)
	return kind
}
