package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/joblistings/internal/config"
	"github.com/dunamismax/joblistings/internal/telemetry"
	"github.com/dunamismax/joblistings/internal/webhook"
	"github.com/dunamismax/joblistings/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Printf("load .env failed: %v", err)
	}
	cfg := config.Load()

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName + "-worker",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker version=%s concurrency=%d queue=%s redis=%s webhook_configured=%t",
		version,
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Worker.WebhookURL != "",
	)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Worker.WebhookSecret,
		Timeout:        cfg.Worker.WebhookTimeout,
		MaxAttempts:    cfg.Worker.WebhookAttempts,
		InitialBackoff: cfg.Worker.WebhookBackoff,
		MaxBackoff:     cfg.Worker.WebhookMaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, webhookClient)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", srv.MetricsHandler())
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
				logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	// asynq handles SIGINT/SIGTERM inside Run.
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
