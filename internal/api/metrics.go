package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/joblistings/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	requestTotal          *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	rateLimitRejected     *prometheus.CounterVec
	uploadsTotal          *prometheus.CounterVec
	recordsAccepted       prometheus.Counter
	datasetRecords        prometheus.Gauge
	datasetPresent        prometheus.Gauge
	notificationsEnqueued *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joblistings_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "joblistings_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joblistings_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joblistings_uploads_total",
			Help: "CSV uploads by outcome.",
		}, []string{"outcome"}),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "joblistings_records_accepted_total",
			Help: "Records accepted across all successful uploads.",
		}),
		datasetRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "joblistings_dataset_records",
			Help: "Record count of the most recently accepted upload.",
		}),
		datasetPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "joblistings_dataset_present",
			Help: "1 once a dataset has been stored, 0 before the first upload.",
		}),
		notificationsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joblistings_dataset_notifications_total",
			Help: "Dataset change notifications handed to the queue, by status.",
		}, []string{"status"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.uploadsTotal,
		m.recordsAccepted,
		m.datasetRecords,
		m.datasetPresent,
		m.notificationsEnqueued,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) setDatasetState(state domain.DatasetState) {
	if state == domain.DatasetPresent {
		m.datasetPresent.Set(1)
		return
	}
	m.datasetPresent.Set(0)
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case path == "/":
		return "/"
	case strings.HasPrefix(path, "/upload-csv"):
		return "/upload-csv/"
	case strings.HasPrefix(path, "/data"):
		return "/data/"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
