package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cai"

type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestInFlight  prometheus.Gauge
	ingressThrottled *prometheus.CounterVec

	askRequestsTotal    *prometheus.CounterVec
	askDuration         *prometheus.HistogramVec
	askNoticesTotal     *prometheus.CounterVec
	retrievalCandidates *prometheus.HistogramVec
	retrievalDegraded   *prometheus.CounterVec
	retrievalBroadened  *prometheus.CounterVec
	streamEventsTotal   *prometheus.CounterVec
	llmRateLimitedTotal *prometheus.CounterVec

	resilience *ResilienceMetrics
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ingressThrottled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Requests rejected by the ingress rate limiter.",
		},
		[]string{"service", "path"},
	)
	askRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Finished ask pipelines by intent and outcome.",
		},
		[]string{"service", "intent", "outcome", "error_kind"},
	)
	askDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Ask pipeline duration from connected to the terminal event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"service", "intent"},
	)
	askNoticesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ask",
			Name:      "notices_total",
			Help:      "Non-fatal notices attached to done events.",
		},
		[]string{"service", "kind"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "candidates",
			Help:      "Candidates per ask at each retrieval stage.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
		[]string{"service", "stage"},
	)
	retrievalDegraded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Asks where a retrieval branch failed and was skipped.",
		},
		[]string{"service", "branch"},
	)
	retrievalBroadened := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "broadened_total",
			Help:      "Asks that needed the broadened text query.",
		},
		[]string{"service"},
	)
	streamEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events emitted by kind.",
		},
		[]string{"service", "kind"},
	)
	llmRateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "rate_limited_total",
			Help:      "Generation calls refused by the per-minute limiter.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ingressThrottled,
		askRequestsTotal,
		askDuration,
		askNoticesTotal,
		retrievalCandidates,
		retrievalDegraded,
		retrievalBroadened,
		streamEventsTotal,
		llmRateLimitedTotal,
	)

	return &HTTPServerMetrics{
		service:             service,
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		ingressThrottled:    ingressThrottled,
		askRequestsTotal:    askRequestsTotal,
		askDuration:         askDuration,
		askNoticesTotal:     askNoticesTotal,
		retrievalCandidates: retrievalCandidates,
		retrievalDegraded:   retrievalDegraded,
		retrievalBroadened:  retrievalBroadened,
		streamEventsTotal:   streamEventsTotal,
		llmRateLimitedTotal: llmRateLimitedTotal,
		resilience:          newResilienceMetrics(service, registry),
	}
}

// Resilience is the executor observer backed by this registry.
func (m *HTTPServerMetrics) Resilience() *ResilienceMetrics {
	return m.resilience
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordThrottled counts a request rejected by the ingress limiter.
func (m *HTTPServerMetrics) RecordThrottled(path string) {
	m.ingressThrottled.WithLabelValues(m.service, normalizePath(path)).Inc()
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/queries/") && strings.HasSuffix(path, "/evaluation.xlsx"):
		return "/v1/queries/{query_id}/evaluation.xlsx"
	case strings.HasPrefix(path, "/v1/queries/"):
		return "/v1/queries/{query_id}/evaluation"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
