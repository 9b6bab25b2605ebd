package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the report worker consuming query-recorded events.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	exportDuration *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	eventLag       *prometheus.HistogramVec
	resilience     *ResilienceMetrics
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_total",
			Help:      "Query-recorded events handled by status.",
		},
		[]string{"service", "status"},
	)
	exportDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "report_export_duration_seconds",
			Help:      "Evaluation report export duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_in_flight",
			Help:      "Number of events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between a query being recorded and the worker picking it up.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(eventsTotal, exportDuration, inFlight, eventLag)

	return &WorkerMetrics{
		service:        service,
		registry:       registry,
		eventsTotal:    eventsTotal,
		exportDuration: exportDuration,
		inFlight:       inFlight,
		eventLag:       eventLag,
		resilience:     newResilienceMetrics(service, registry),
	}
}

func (m *WorkerMetrics) Resilience() *ResilienceMetrics {
	return m.resilience
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.inFlight.Inc()
}

// FinishEvent records the outcome. status is "exported", "skipped" or "error".
func (m *WorkerMetrics) FinishEvent(status string, duration time.Duration) {
	m.inFlight.Dec()
	m.eventsTotal.WithLabelValues(m.service, status).Inc()
	if status == "skipped" {
		return
	}
	m.exportDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
