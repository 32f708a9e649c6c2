package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	BackendFile   = "file"
	BackendObject = "object"
	BackendMemory = "memory"
)

type Config struct {
	API       APIConfig
	Dataset   DatasetConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	CORSOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type DatasetConfig struct {
	Backend   string
	FilePath  string
	ObjectKey string
}

type QueueConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency       int
	MetricsAddr       string
	WebhookURL        string
	WebhookSecret     string
	WebhookTimeout    time.Duration
	WebhookAttempts   int
	WebhookBackoff    time.Duration
	WebhookMaxBackoff time.Duration
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	UserIDHeader string
	KeyPrefix    string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// LoadDotEnv reads .env into the process environment when the file exists.
// Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:           env("JOBLISTINGS_API_ADDR", ":8000"),
			MaxUploadBytes: int64(envInt("JOBLISTINGS_MAX_UPLOAD_BYTES", 10<<20)),
			CORSOrigins:    envList("JOBLISTINGS_CORS_ORIGINS", []string{"http://127.0.0.1:5500"}),
			ReadTimeout:    envDuration("JOBLISTINGS_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   envDuration("JOBLISTINGS_WRITE_TIMEOUT", 30*time.Second),
		},
		Dataset: DatasetConfig{
			Backend:   strings.ToLower(env("DATASET_BACKEND", BackendFile)),
			FilePath:  env("DATASET_FILE_PATH", "uploaded_data.csv"),
			ObjectKey: env("DATASET_OBJECT_KEY", "datasets/current.csv"),
		},
		Queue: QueueConfig{
			Enabled:       envBool("QUEUE_ENABLED", false),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr:       env("WORKER_METRICS_ADDR", ":9091"),
			WebhookURL:        env("WEBHOOK_URL", ""),
			WebhookSecret:     env("WEBHOOK_SIGNING_SECRET", ""),
			WebhookTimeout:    envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			WebhookAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			WebhookBackoff:    envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			WebhookMaxBackoff: envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "joblistings"),
			Region:    env("MINIO_REGION", ""),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 10),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
			KeyPrefix:    env("RATE_LIMIT_KEY_PREFIX", "joblistings:ratelimit"),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "joblistings"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
