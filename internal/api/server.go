package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/dunamismax/joblistings/internal/id"
	"github.com/dunamismax/joblistings/internal/ingest"
	"github.com/dunamismax/joblistings/internal/queue"
	"github.com/dunamismax/joblistings/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	uploadFormField       = "file"
	defaultMaxUploadBytes = 10 << 20
	uploadSuccessMessage  = "CSV file uploaded and processed successfully"
	rootMessage           = "Job listing service is running"
)

var (
	errMissingFile     = errors.New(`multipart form must contain a "file" field`)
	errMalformedUpload = errors.New("malformed multipart upload")
)

type Server struct {
	logger                *log.Logger
	datasets              store.DatasetStore
	notifier              datasetNotifier
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	corsOrigins           map[string]struct{}
	metrics               *metrics
	tracer                trace.Tracer
	now                   func() time.Time
	mux                   *http.ServeMux
}

type datasetNotifier interface {
	EnqueueDatasetReplaced(ctx context.Context, payload queue.DatasetReplacedPayload) (*asynq.TaskInfo, error)
}

// Options carries the optional collaborators of a Server. Zero values disable
// the matching feature.
type Options struct {
	Notifier              datasetNotifier
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	MaxUploadBytes        int64
	CORSOrigins           []string
}

func NewServer(logger *log.Logger, datasets store.DatasetStore, opts Options) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxUploadBytes := opts.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	userHeader := opts.RateLimitUserIDHeader
	if userHeader == "" {
		userHeader = "X-User-ID"
	}

	origins := make(map[string]struct{}, len(opts.CORSOrigins))
	for _, o := range opts.CORSOrigins {
		origins[o] = struct{}{}
	}

	s := &Server{
		logger:                logger,
		datasets:              datasets,
		notifier:              opts.Notifier,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: userHeader,
		maxUploadBytes:        maxUploadBytes,
		corsOrigins:           origins,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("joblistings/api"),
		now:                   time.Now,
		mux:                   http.NewServeMux(),
	}
	s.metrics.setDatasetState(datasets.State())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withCORS(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("PUT /upload-csv", s.handleUploadCSV)
	s.mux.HandleFunc("PUT /upload-csv/{$}", s.handleUploadCSV)
	s.mux.HandleFunc("GET /data", s.handleGetData)
	s.mux.HandleFunc("GET /data/{$}", s.handleGetData)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": rootMessage})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"dataset": string(s.datasets.State()),
	})
}

func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	filename, records, err := s.readUpload(r)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		s.writeError(w, opUpload, err)
		return
	}

	if err := s.datasets.Replace(r.Context(), records); err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		s.writeError(w, opUpload, err)
		return
	}

	receipt := domain.UploadReceipt{
		UploadID:   id.New(),
		Filename:   filename,
		Records:    len(records),
		AcceptedAt: s.now().UTC(),
	}
	s.metrics.uploadsTotal.WithLabelValues("accepted").Inc()
	s.metrics.recordsAccepted.Add(float64(len(records)))
	s.metrics.datasetRecords.Set(float64(len(records)))
	s.metrics.setDatasetState(domain.DatasetPresent)
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("upload.id", receipt.UploadID),
		attribute.Int("upload.records", receipt.Records),
	)
	s.notifyReplaced(r.Context(), receipt)

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   uploadSuccessMessage,
		"upload_id": receipt.UploadID,
		"records":   receipt.Records,
	})
}

// readUpload streams the multipart body and checks the file name before any
// CSV parsing happens. Broken framing or a truncated part is the caller's
// fault; an oversized body still classifies as too large.
func (s *Server) readUpload(r *http.Request) (string, []domain.Record, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", nil, errMissingFile
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", nil, errMissingFile
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", errMalformedUpload, err)
		}
		if part.FormName() != uploadFormField {
			_ = part.Close()
			continue
		}
		defer part.Close()

		filename := part.FileName()
		if err := domain.ValidateFilename(filename); err != nil {
			return filename, nil, err
		}

		records, err := ingest.Decode(part)
		if err != nil && !errors.Is(err, domain.ErrSchemaViolation) {
			return filename, nil, fmt.Errorf("%w: %w", errMalformedUpload, err)
		}
		if err != nil {
			return filename, nil, err
		}
		return filename, records, nil
	}
}

func (s *Server) notifyReplaced(ctx context.Context, receipt domain.UploadReceipt) {
	if s.notifier == nil {
		return
	}

	_, err := s.notifier.EnqueueDatasetReplaced(ctx, queue.DatasetReplacedPayload{
		UploadID:   receipt.UploadID,
		Filename:   receipt.Filename,
		Records:    receipt.Records,
		ReplacedAt: receipt.AcceptedAt,
	})
	if err != nil {
		s.metrics.notificationsEnqueued.WithLabelValues("failed").Inc()
		s.logger.Printf("enqueue dataset notification failed upload_id=%s err=%v", receipt.UploadID, err)
		return
	}
	s.metrics.notificationsEnqueued.WithLabelValues("enqueued").Inc()
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	records, err := s.datasets.ReadAll(r.Context())
	if err != nil {
		s.writeError(w, opFetch, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
