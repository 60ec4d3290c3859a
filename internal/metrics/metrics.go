// Package metrics holds the Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for processed messages.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeMalformed = "malformed"
)

type Metrics struct {
	registry *prometheus.Registry

	submissions        *prometheus.CounterVec
	processed          *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qa_submissions_total",
			Help: "Questions accepted onto the work queue",
		}, []string{"topic"}),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qa_messages_processed_total",
			Help: "Queue messages processed by the worker",
		}, []string{"topic", "outcome"}),
		generationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qa_generation_duration_seconds",
			Help:    "Time spent generating an answer",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"topic"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qa_queue_messages",
			Help: "Approximate number of messages per queue state",
		}, []string{"state"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qa_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// All methods are safe on a nil *Metrics so callers can run without metrics.

func (m *Metrics) Submitted(topic string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(topic).Inc()
}

func (m *Metrics) Processed(topic, outcome string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) ObserveGeneration(topic string, d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(visible, inFlight, deadLetters int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("visible").Set(float64(visible))
	m.queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
	m.queueDepth.WithLabelValues("dead_letter").Set(float64(deadLetters))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency. routePattern maps a request
// to a low-cardinality path label; nil uses the raw URL path.
func (m *Metrics) Middleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}
			m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
