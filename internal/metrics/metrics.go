// Package metrics exposes Prometheus counters and gauges for the HTTP
// surface and the index store.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service holds every metric the server exports.
type Service struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	scanDuration      prometheus.Histogram
	scanDistributions prometheus.Gauge
	scanProjects      prometheus.Gauge
	scanIndexes       prometheus.Gauge
	storeRevision     prometheus.Gauge
}

// NewService builds and registers the metric set.
func NewService() *Service {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pypiserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pypiserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	httpRequestsInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pypiserve_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "endpoint"},
	)

	scanDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pypiserve_scan_duration_seconds",
			Help:    "Duration of a full distribution scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	scanDistributions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pypiserve_store_distributions",
			Help: "Number of distribution files currently indexed",
		},
	)

	scanProjects := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pypiserve_store_distinct_projects",
			Help: "Number of distinct canonical projects currently indexed",
		},
	)

	scanIndexes := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pypiserve_store_distinct_indexes",
			Help: "Number of distinct sub-indexes currently indexed",
		},
	)

	storeRevision := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pypiserve_store_revision",
			Help: "Current monotonic revision of the index store",
		},
	)

	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		httpRequestsInFlight,
		scanDuration,
		scanDistributions,
		scanProjects,
		scanIndexes,
		storeRevision,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return &Service{
		registry:             registry,
		httpRequestsTotal:    httpRequestsTotal,
		httpRequestDuration:  httpRequestDuration,
		httpRequestsInFlight: httpRequestsInFlight,
		scanDuration:         scanDuration,
		scanDistributions:    scanDistributions,
		scanProjects:         scanProjects,
		scanIndexes:          scanIndexes,
		storeRevision:        storeRevision,
	}
}

// Handler serves the Prometheus exposition format for /metrics.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts, durations, and in-flight gauges per
// route.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		s.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer s.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", c.Writer.Status())
		s.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		s.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// ObserveScan records the outcome of a completed scan.
func (s *Service) ObserveScan(duration time.Duration, distributions, projects, indexes, revision int64) {
	s.scanDuration.Observe(duration.Seconds())
	s.scanDistributions.Set(float64(distributions))
	s.scanProjects.Set(float64(projects))
	s.scanIndexes.Set(float64(indexes))
	s.storeRevision.Set(float64(revision))
}
