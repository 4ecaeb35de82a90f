package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes is the closed set of path labels; anything else is "other".
var routes = map[string]bool{
	"/":               true,
	"/ui/results":     true,
	"/api/query":      true,
	"/api/categories": true,
	"/export.csv":     true,
	"/chart.svg":      true,
	"/healthz":        true,
	"/readyz":         true,
	"/metrics":        true,
}

func routeLabel(path string) string {
	if routes[path] {
		return path
	}
	if strings.HasPrefix(path, "/static/") {
		return "/static/"
	}
	return "other"
}

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	queries          *prometheus.CounterVec
	resultRows       prometheus.Histogram
	validationErrors *prometheus.CounterVec
	rateLimited      prometheus.Counter
	authFailures     prometheus.Counter
	datasetRows      prometheus.Gauge
}

// NewMetrics registers all collectors on reg, or on a fresh registry when
// reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cpidash_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cpidash_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"route"}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cpidash_queries_total",
			Help: "Executed dataset queries by surface (ui, api, export, chart).",
		}, []string{"surface"}),
		resultRows: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cpidash_query_result_rows",
			Help:    "Number of table rows returned per query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		validationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cpidash_validation_errors_total",
			Help: "Rejected query requests by offending field.",
		}, []string{"field"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "cpidash_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cpidash_auth_failures_total",
			Help: "Requests rejected by basic authentication.",
		}),
		datasetRows: f.NewGauge(prometheus.GaugeOpts{
			Name: "cpidash_dataset_observations",
			Help: "Observations held by the loaded dataset.",
		}),
	}
}

// Observe is a trace.Observer.
func (m *Metrics) Observe(r *http.Request, status int, d time.Duration) {
	route := routeLabel(r.URL.Path)
	m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) queryServed(surface string, rows int) {
	m.queries.WithLabelValues(surface).Inc()
	m.resultRows.Observe(float64(rows))
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
