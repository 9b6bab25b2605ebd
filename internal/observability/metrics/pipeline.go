package metrics

import (
	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/usecase"
)

var _ usecase.AskObserver = (*HTTPServerMetrics)(nil)

// ObserveAsk records one finished ask pipeline.
func (m *HTTPServerMetrics) ObserveAsk(obs usecase.AskObservation) {
	intent := string(obs.Intent)
	if intent == "" {
		intent = "unknown"
	}
	outcome := obs.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	m.askRequestsTotal.WithLabelValues(m.service, intent, outcome, string(obs.ErrorKind)).Inc()
	m.askDuration.WithLabelValues(m.service, intent).Observe(obs.Latency.Seconds())
	if obs.Notice != "" {
		m.askNoticesTotal.WithLabelValues(m.service, string(obs.Notice)).Inc()
	}

	if obs.Intent != domain.IntentCasual && obs.Intent != "" {
		stages := []struct {
			name  string
			count int
		}{
			{"vector", obs.VectorHits},
			{"text", obs.TextHits},
			{"fused", obs.Fused},
			{"deduped", obs.Deduped},
			{"selected", obs.Selected},
		}
		for _, s := range stages {
			m.retrievalCandidates.WithLabelValues(m.service, s.name).Observe(float64(s.count))
		}
	}
	for _, branch := range obs.Degraded {
		m.retrievalDegraded.WithLabelValues(m.service, branch).Inc()
	}
	if obs.Broadened {
		m.retrievalBroadened.WithLabelValues(m.service).Inc()
	}
	for _, kind := range obs.Events {
		m.streamEventsTotal.WithLabelValues(m.service, string(kind)).Inc()
	}
}

// RecordRateLimited is the LLM client's limiter hook.
func (m *HTTPServerMetrics) RecordRateLimited(operation string) {
	if operation == "" {
		operation = "unknown"
	}
	m.llmRateLimitedTotal.WithLabelValues(m.service, operation).Inc()
}
