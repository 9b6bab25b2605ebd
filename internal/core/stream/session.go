// Package stream enforces the ordered event protocol for one ask.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

var (
	ErrSessionClosed = errors.New("stream session closed")
	ErrOutOfOrder    = errors.New("stream event out of order")
)

// rank orders the non-terminal kinds; an event may only follow a lower rank, except that
// tokens may repeat.
var rank = map[domain.EventKind]int{
	domain.EventConnected:         1,
	domain.EventMeta:              2,
	domain.EventCitations:         3,
	domain.EventToken:             4,
	domain.EventEvaluationPayload: 5,
}

// Session owns one caller's event sequence. It stops emitting after done, error, or
// cancellation of its context.
type Session struct {
	ctx           context.Context
	sink          ports.EventSink
	correlationID string

	mu      sync.Mutex
	seq     int
	last    domain.EventKind
	closed  bool
	answer  strings.Builder
	started time.Time
	kinds   []domain.EventKind
}

func NewSession(ctx context.Context, correlationID string, sink ports.EventSink) *Session {
	return &Session{
		ctx:           ctx,
		sink:          sink,
		correlationID: correlationID,
		started:       time.Now(),
	}
}

func (s *Session) CorrelationID() string {
	return s.correlationID
}

func (s *Session) Connected() error {
	return s.emit(domain.EventConnected, domain.ConnectedPayload{CorrelationID: s.correlationID, StartedAt: s.started.UTC()})
}

func (s *Session) Meta(meta domain.MetaPayload) error {
	meta.CorrelationID = s.correlationID
	return s.emit(domain.EventMeta, meta)
}

func (s *Session) Citations(citations []domain.Citation) error {
	if citations == nil {
		citations = []domain.Citation{}
	}
	return s.emit(domain.EventCitations, domain.CitationsPayload{Citations: citations})
}

// Token emits one answer fragment verbatim. Empty fragments are skipped.
func (s *Session) Token(fragment string) error {
	if fragment == "" {
		return nil
	}
	return s.emit(domain.EventToken, domain.TokenPayload{Text: fragment})
}

func (s *Session) EvaluationPayload(result domain.EvaluationResult) error {
	return s.emit(domain.EventEvaluationPayload, result)
}

func (s *Session) Done(payload domain.DonePayload) error {
	if payload.LatencyMS == 0 {
		payload.LatencyMS = time.Since(s.started).Milliseconds()
	}
	return s.emit(domain.EventDone, payload)
}

// Fail emits the terminal error event. It is a no-op once the session is closed.
func (s *Session) Fail(kind domain.ErrorKind, message string) error {
	if kind == "" {
		kind = domain.KindInternal
	}
	return s.emit(domain.EventError, domain.ErrorPayload{Kind: kind, Message: message})
}

// Answer is the concatenation of every emitted token.
func (s *Session) Answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer.String()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Kinds returns the emitted event kinds in order.
func (s *Session) Kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EventKind(nil), s.kinds...)
}

func (s *Session) Elapsed() time.Duration {
	return time.Since(s.started)
}

func (s *Session) emit(kind domain.EventKind, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := s.ctx.Err(); err != nil {
		s.closed = true
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	if !s.allowed(kind) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, kind, s.last)
	}

	s.seq++
	event := domain.StreamEvent{
		Seq:           s.seq,
		Kind:          kind,
		CorrelationID: s.correlationID,
		Payload:       payload,
	}
	if err := s.sink.Send(s.ctx, event); err != nil {
		s.closed = true
		return fmt.Errorf("%w: send %s: %w", ErrSessionClosed, kind, err)
	}

	s.last = kind
	s.kinds = append(s.kinds, kind)
	if tok, ok := payload.(domain.TokenPayload); ok {
		s.answer.WriteString(tok.Text)
	}
	if kind.Terminal() {
		s.closed = true
	}
	return nil
}

func (s *Session) allowed(kind domain.EventKind) bool {
	if kind == domain.EventError {
		return true
	}
	if kind == domain.EventDone {
		return s.last != ""
	}
	if s.last == "" {
		return kind == domain.EventConnected
	}
	if kind == domain.EventToken && s.last == domain.EventToken {
		return true
	}
	return rank[kind] > rank[s.last]
}
