package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

// sseSink writes stream events as server-sent events. Headers are committed on the first
// event, so a request that fails before emitting anything can still get a JSON error.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(ctx context.Context, event domain.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Kind, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
