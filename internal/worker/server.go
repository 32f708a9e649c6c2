package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/joblistings/internal/config"
	"github.com/dunamismax/joblistings/internal/queue"
	"github.com/dunamismax/joblistings/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	webhookClient webhookSender
	webhookURL    string
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	NotifyDatasetReplaced(ctx context.Context, endpoint string, ev webhook.DatasetReplacedEvent) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	webhookClient webhookSender,
) (*Server, error) {
	if webhookClient == nil {
		return nil, errors.New("webhook client is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		webhookClient: webhookClient,
		webhookURL:    workerCfg.WebhookURL,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("joblistings/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeDatasetReplaced, s.handleDatasetReplaced)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleDatasetReplaced(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseDatasetReplacedPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.dataset_replaced", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("upload.id", payload.UploadID),
		attribute.String("upload.filename", payload.Filename),
		attribute.Int("dataset.records", payload.Records),
	)
	defer span.End()
	defer func() {
		s.metrics.notificationDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.notificationsTotal.WithLabelValues(outcome).Inc()
	}()

	s.metrics.lastDatasetRecords.Set(float64(payload.Records))
	s.metrics.lastDatasetReplacedAt.Set(float64(payload.ReplacedAt.Unix()))

	if s.webhookURL == "" {
		outcome = "skipped"
		s.logger.Printf("no webhook configured upload_id=%s records=%d", payload.UploadID, payload.Records)
		return nil
	}

	err = s.webhookClient.NotifyDatasetReplaced(ctx, s.webhookURL, webhook.NewDatasetReplacedEvent(payload))
	if err != nil {
		s.logger.Printf("webhook delivery failed upload_id=%s err=%v", payload.UploadID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		var statusErr *webhook.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			outcome = "rejected"
			return fmt.Errorf("dispatch webhook: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	s.logger.Printf("notified upload_id=%s records=%d", payload.UploadID, payload.Records)
	outcome = "delivered"
	span.SetStatus(codes.Ok, "delivered")
	return nil
}
