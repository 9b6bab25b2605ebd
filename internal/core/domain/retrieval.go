package domain

import "time"

type Intent string

const (
	IntentCasual     Intent = "casual"
	IntentRAG        Intent = "rag"
	IntentEvaluation Intent = "evaluation"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentCasual, IntentRAG, IntentEvaluation:
		return true
	default:
		return false
	}
}

// IntentResult is the routing decision for one question.
type IntentResult struct {
	Intent  Intent `json:"intent"`
	Subject string `json:"subject,omitempty"`
	// Source names the classifier tier that produced the intent ("llm" or "pattern").
	Source string `json:"source,omitempty"`
	// Downgraded is set when an evaluation question had no resolvable subject.
	Downgraded bool `json:"downgraded,omitempty"`
}

type AskRequest struct {
	ClientID      string `json:"client_id"`
	Question      string `json:"question"`
	Filter        Filter `json:"filters"`
	CorrelationID string `json:"-"`
}

type QueryStatus string

const (
	QueryStatusAnswered   QueryStatus = "answered"
	QueryStatusNoEvidence QueryStatus = "no_evidence"
	QueryStatusRefused    QueryStatus = "refused"
)

// QueryRecord is the persisted outcome of one completed ask.
type QueryRecord struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id"`
	CorrelationID string        `json:"correlation_id"`
	Question      string        `json:"question"`
	Intent        Intent        `json:"intent"`
	Subject       string        `json:"subject,omitempty"`
	Filter        Filter        `json:"filters"`
	Answer        string        `json:"answer"`
	Citations     []Citation    `json:"citations"`
	Status        QueryStatus   `json:"status"`
	Latency       time.Duration `json:"latency"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QueryRecordedEvent is published after a query record has been stored.
type QueryRecordedEvent struct {
	QueryID       string    `json:"query_id"`
	ClientID      string    `json:"client_id"`
	CorrelationID string    `json:"correlation_id"`
	Intent        Intent    `json:"intent"`
	Subject       string    `json:"subject,omitempty"`
	Status        string    `json:"status"`
	CitationCount int       `json:"citation_count"`
	Evaluated     bool      `json:"evaluated"`
	LatencyMS     int64     `json:"latency_ms"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// StoredEvaluation is an evaluation as read back from persistence.
type StoredEvaluation struct {
	QueryID    string           `json:"query_id"`
	ClientID   string           `json:"client_id"`
	Subject    string           `json:"subject"`
	RubricName string           `json:"rubric_name"`
	Result     EvaluationResult `json:"result"`
	CreatedAt  time.Time        `json:"created_at"`
}
