// Package observability holds the service's Prometheus collectors. Every
// helper is a no-op until Init binds the collectors to a registry.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	aggregationsTotal          *prometheus.CounterVec
	datasetLoadSeconds         *prometheus.HistogramVec
	reprojectSeconds           *prometheus.HistogramVec
	queryEventsTotal           *prometheus.CounterVec
}

var active atomic.Pointer[collectors]

// Init registers the collectors on reg. With enabled=false the helpers
// stay no-ops.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		active.Store(nil)
		return
	}
	f := promauto.With(reg)
	c := &collectors{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		aggregationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feature_aggregations_total",
				Help: "Aggregations by metric and the path that produced the result (primary, fallback, failed).",
			},
			[]string{"metric", "path"},
		),
		datasetLoadSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_load_duration_seconds",
				Help:    "Time to load and decode a dataset.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"source", "outcome"},
		),
		reprojectSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reprojection_duration_seconds",
				Help:    "Time to reproject a collection.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
			},
			[]string{"target"},
		),
		queryEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_events_total",
				Help: "Query events by publish outcome.",
			},
			[]string{"outcome"},
		),
	}
	active.Store(c)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncAggregation(metric, path string) {
	if c := active.Load(); c != nil {
		c.aggregationsTotal.WithLabelValues(metric, path).Inc()
	}
}

func ObserveDatasetLoad(source, outcome string, durationSeconds float64) {
	if c := active.Load(); c != nil {
		c.datasetLoadSeconds.WithLabelValues(source, outcome).Observe(durationSeconds)
	}
}

func ObserveReprojection(target string, durationSeconds float64) {
	if c := active.Load(); c != nil {
		c.reprojectSeconds.WithLabelValues(target).Observe(durationSeconds)
	}
}

func IncQueryEvent(outcome string) {
	if c := active.Load(); c != nil {
		c.queryEventsTotal.WithLabelValues(outcome).Inc()
	}
}
