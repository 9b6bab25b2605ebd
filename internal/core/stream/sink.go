package stream

import (
	"context"
	"sync"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

// SinkFunc adapts a function to ports.EventSink.
type SinkFunc func(ctx context.Context, event domain.StreamEvent) error

func (f SinkFunc) Send(ctx context.Context, event domain.StreamEvent) error {
	return f(ctx, event)
}

// Recorder keeps every event in memory. Used by non-streaming callers and tests.
type Recorder struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (r *Recorder) Send(_ context.Context, event domain.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamEvent(nil), r.events...)
}

func (r *Recorder) Kinds() []domain.EventKind {
	events := r.Events()
	out := make([]domain.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// Text concatenates token payloads in emission order.
func (r *Recorder) Text() string {
	var out string
	for _, e := range r.Events() {
		if tok, ok := e.Payload.(domain.TokenPayload); ok {
			out += tok.Text
		}
	}
	return out
}

// Last returns the final event, if any.
func (r *Recorder) Last() (domain.StreamEvent, bool) {
	events := r.Events()
	if len(events) == 0 {
		return domain.StreamEvent{}, false
	}
	return events[len(events)-1], true
}
