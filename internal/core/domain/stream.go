package domain

import "time"

type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventMeta              EventKind = "meta"
	EventCitations         EventKind = "citations"
	EventToken             EventKind = "token"
	EventEvaluationPayload EventKind = "evaluation_payload"
	EventDone              EventKind = "done"
	EventError             EventKind = "error"
)

func (k EventKind) Terminal() bool {
	return k == EventDone || k == EventError
}

type StreamEvent struct {
	Seq           int       `json:"seq"`
	Kind          EventKind `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Payload       any       `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
}

type MetaPayload struct {
	CorrelationID string `json:"correlation_id"`
	Intent        Intent `json:"intent"`
	Subject       string `json:"subject,omitempty"`
	Filters       Filter `json:"filters"`
	// TimeWindow is the resolved phrase when a relative date range was applied.
	TimeWindow       string `json:"time_window,omitempty"`
	IntentSource     string `json:"intent_source,omitempty"`
	IntentDowngraded bool   `json:"intent_downgraded,omitempty"`
}

type CitationsPayload struct {
	Citations []Citation `json:"citations"`
}

type TokenPayload struct {
	Text string `json:"text"`
}

type DonePayload struct {
	QueryID   string `json:"query_id,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Persisted bool   `json:"persisted"`
	// Notice carries a non-fatal condition such as NO_EVIDENCE or INSUFFICIENT_DIVERSITY.
	Notice ErrorKind `json:"notice,omitempty"`
}

type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
