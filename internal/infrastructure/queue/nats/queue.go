package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

const (
	DefaultSubject      = "archive.queries.recorded"
	correlationIDHeader = "X-Correlation-ID"
)

// Publisher announces recorded queries on a NATS subject.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Publisher, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("chat-archive-insights"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) PublishQueryRecorded(ctx context.Context, event domain.QueryRecordedEvent) error {
	msg, err := encodeQueryRecorded(p.subject, event)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapPublishError(err)
	}
	return nil
}

// SubscribeQueryRecorded delivers events until ctx ends, then drains the subscription.
func (p *Publisher) SubscribeQueryRecorded(ctx context.Context, handler func(context.Context, domain.QueryRecordedEvent) error) error {
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		event, err := decodeQueryRecorded(msg)
		if err != nil {
			slog.Warn("query_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			slog.Warn("query_event_handler_failed", "query_id", event.QueryID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeQueryRecorded(subject string, event domain.QueryRecordedEvent) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal query recorded event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if event.CorrelationID != "" {
		msg.Header.Set(correlationIDHeader, event.CorrelationID)
	}
	return msg, nil
}

func decodeQueryRecorded(msg *nats.Msg) (domain.QueryRecordedEvent, error) {
	var event domain.QueryRecordedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return domain.QueryRecordedEvent{}, fmt.Errorf("unmarshal query recorded event: %w", err)
	}
	if event.CorrelationID == "" && msg.Header != nil {
		event.CorrelationID = msg.Header.Get(correlationIDHeader)
	}
	return event, nil
}
