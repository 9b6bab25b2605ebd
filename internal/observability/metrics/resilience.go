package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

var _ resilience.Observer = (*ResilienceMetrics)(nil)

// ResilienceMetrics records executor retries and breaker states on the owning process registry.
type ResilienceMetrics struct {
	service      string
	retriesTotal *prometheus.CounterVec
	retryBackoff *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

func newResilienceMetrics(service string, registry prometheus.Registerer) *ResilienceMetrics {
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retries scheduled by operation.",
		},
		[]string{"service", "operation"},
	)
	retryBackoff := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retry_backoff_seconds",
			Help:      "Wait before each retry.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6},
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	registry.MustRegister(retriesTotal, retryBackoff, breakerState)

	return &ResilienceMetrics{
		service:      service,
		retriesTotal: retriesTotal,
		retryBackoff: retryBackoff,
		breakerState: breakerState,
	}
}

func (m *ResilienceMetrics) RetryScheduled(operation string, _ int, wait time.Duration) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
	m.retryBackoff.WithLabelValues(m.service, operation).Observe(wait.Seconds())
}

func (m *ResilienceMetrics) BreakerStateChanged(operation string, _, to string) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
