package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

// connectionErrors clear once the client reconnects.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	for _, target := range connectionErrors {
		if errors.Is(err, target) {
			return resilience.Transient()
		}
	}
	return resilience.Permanent()
}

// wrapPublishError marks connection-level failures as an unavailable event bus. Encoding errors
// pass through unchanged.
func wrapPublishError(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	if classifyNATSError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "nats publish", err)
	}
	return err
}
