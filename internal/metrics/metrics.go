// Package metrics holds the Prometheus collectors of the data client and
// the fixture API. Collectors are registered per instance so tests and
// multiple sessions never share global state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "osem"

// Client collects data API client metrics.
type Client struct {
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	FetchBytes    *prometheus.HistogramVec
	SharedFetches *prometheus.CounterVec
	InFlight      prometheus.Gauge
}

// NewClient registers client collectors with reg.
func NewClient(reg prometheus.Registerer) *Client {
	f := promauto.With(reg)
	return &Client{
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "fetches_total",
			Help:      "Total data API requests by path and outcome",
		}, []string{"path", "outcome"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "fetch_duration_seconds",
			Help:      "Data API request latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"path"}),
		FetchBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "fetch_size_bytes",
			Help:      "Data API response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"path"}),
		SharedFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "shared_fetches_total",
			Help:      "Requests answered by an identical request already in flight",
		}, []string{"path"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "fetches_in_flight",
			Help:      "Data API requests currently in flight",
		}),
	}
}

// Server collects fixture API metrics.
type Server struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FeaturesServed  *prometheus.CounterVec
}

// NewServer registers server collectors with reg.
func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		FeaturesServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "features_served_total",
			Help:      "Features or rows returned per route",
		}, []string{"route"}),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency under a fixed route label.
func (s *Server) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the collectors of g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
