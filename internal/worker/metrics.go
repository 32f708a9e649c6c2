package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	notificationsTotal    *prometheus.CounterVec
	notificationDuration  *prometheus.HistogramVec
	lastDatasetRecords    prometheus.Gauge
	lastDatasetReplacedAt prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "joblistings_worker_notifications_total",
			Help: "Dataset change notifications handled by the worker, by outcome.",
		}, []string{"status"}),
		notificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "joblistings_worker_notification_duration_seconds",
			Help:    "Time spent delivering a dataset change notification.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		lastDatasetRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "joblistings_worker_last_dataset_records",
			Help: "Record count of the most recently notified dataset.",
		}),
		lastDatasetReplacedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "joblistings_worker_last_dataset_replaced_timestamp_seconds",
			Help: "Unix time of the most recently notified dataset replacement.",
		}),
	}

	registry.MustRegister(
		m.notificationsTotal,
		m.notificationDuration,
		m.lastDatasetRecords,
		m.lastDatasetReplacedAt,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
