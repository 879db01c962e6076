// Package metrics exposes Prometheus collectors for the receipt layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "receipt_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receipt_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receipt_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tasksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receipt_layer",
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Total number of tasks admitted for processing.",
		},
		[]string{"kind"},
	)

	tasksSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receipt_layer",
			Subsystem: "tasks",
			Name:      "settled_total",
			Help:      "Total number of tasks that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "receipt_layer",
			Subsystem: "tasks",
			Name:      "inflight",
			Help:      "Current number of handlers executing.",
		},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receipt_layer",
			Subsystem: "tasks",
			Name:      "handler_duration_seconds",
			Help:      "Duration of task handler executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"kind"},
	)

	tasksCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "receipt_layer",
			Subsystem: "tasks",
			Name:      "cleaned_total",
			Help:      "Total number of terminal tasks removed by retention sweeps.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tasksStarted,
		tasksSettled,
		tasksInFlight,
		taskDuration,
		tasksCleaned,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTaskStarted records a task admission.
func RecordTaskStarted(kind string) {
	tasksStarted.WithLabelValues(kind).Inc()
}

// RecordTaskSettled records a terminal task transition with its handler
// duration.
func RecordTaskSettled(kind, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	tasksSettled.WithLabelValues(kind, status).Inc()
	taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetTasksInFlight records the current handler count.
func SetTasksInFlight(n int) {
	tasksInFlight.Set(float64(n))
}

// RecordTasksCleaned records how many tasks a retention sweep removed.
func RecordTasksCleaned(n int) {
	if n > 0 {
		tasksCleaned.Add(float64(n))
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

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource ids so metric label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts", "receipts", "tasks":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
