package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aisu_api_requests_total",
			Help: "Total number of API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aisu_api_request_duration_seconds",
			Help:    "API request duration by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Container lifecycle metrics
	ContainerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aisu_container_operations_total",
			Help: "Container lifecycle operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Filesystem metrics
	FSOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aisu_fs_operations_total",
			Help: "Virtual filesystem operations by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	// Terminal metrics
	TerminalSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aisu_terminal_sessions_active",
			Help: "Number of currently attached terminal sessions",
		},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aisu_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal,
		APIRequestDuration,
		ContainerOperationsTotal,
		FSOperationsTotal,
		TerminalSessionsActive,
		RateLimitedTotal,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations per route.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
