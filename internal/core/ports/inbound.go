package ports

import (
	"context"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for one streamed ask.
// Ask returns an error without emitting events only when the request is rejected as bad input.
type QuestionAnswerer interface {
	Ask(ctx context.Context, req domain.AskRequest, sink EventSink) error
}

// EvaluationReader is the inbound read model for stored evaluations.
type EvaluationReader interface {
	GetEvaluation(ctx context.Context, queryID string) (*domain.StoredEvaluation, error)
}

// EventSink delivers ordered protocol events to one caller.
type EventSink interface {
	Send(ctx context.Context, event domain.StreamEvent) error
}
