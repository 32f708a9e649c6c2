package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/joblistings/internal/api"
	"github.com/dunamismax/joblistings/internal/config"
	"github.com/dunamismax/joblistings/internal/queue"
	"github.com/dunamismax/joblistings/internal/ratelimit"
	"github.com/dunamismax/joblistings/internal/storage"
	"github.com/dunamismax/joblistings/internal/store"
	"github.com/dunamismax/joblistings/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Printf("load .env failed: %v", err)
	}
	cfg := config.Load()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName + "-api",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	datasets, err := openDatasetStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("dataset store init failed: %v", err)
	}
	logger.Printf("dataset backend=%s state=%s", cfg.Dataset.Backend, datasets.State())

	opts := api.Options{
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		CORSOrigins:           cfg.API.CORSOrigins,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	if cfg.Queue.Enabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()
		opts.Notifier = queueClient
	}

	if cfg.RateLimit.Enabled {
		limiter, closeLimiter, err := newRateLimiter(cfg)
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		defer closeLimiter()
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, datasets, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s version=%s", cfg.API.Addr, version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func openDatasetStore(ctx context.Context, cfg config.Config) (store.DatasetStore, error) {
	switch cfg.Dataset.Backend {
	case config.BackendFile:
		s, err := store.NewFileDatasetStore(cfg.Dataset.FilePath)
		if err != nil {
			return nil, err
		}
		return store.WithTracing(s, config.BackendFile), nil
	case config.BackendObject:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.EnsureBucket(initCtx); err != nil {
			return nil, err
		}
		s, err := store.NewObjectDatasetStore(initCtx, client, cfg.Dataset.ObjectKey)
		if err != nil {
			return nil, err
		}
		return store.WithTracing(s, config.BackendObject), nil
	case config.BackendMemory:
		return store.WithTracing(store.NewMemoryDatasetStore(), config.BackendMemory), nil
	default:
		return nil, fmt.Errorf("unsupported dataset backend: %s", cfg.Dataset.Backend)
	}
}

// newRateLimiter prefers the shared Redis bucket when the queue's Redis is in
// use and falls back to a per-process bucket otherwise.
func newRateLimiter(cfg config.Config) (api.RateLimiter, func(), error) {
	if !cfg.Queue.Enabled {
		limiter, err := ratelimit.NewLocalTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.Window)
		return limiter, func() {}, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(client, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, func() { _ = client.Close() }, nil
}
