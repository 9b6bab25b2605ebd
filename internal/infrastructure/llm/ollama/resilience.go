package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, body)
	}
	return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
}

func classifyOllamaError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resilience.ClassifyStatus(statusErr.StatusCode)
	}
	// A stream that ends before its done chunk.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return resilience.Transient()
	}
	return resilience.Permanent()
}

// wrapUpstreamError maps a failed call onto the domain taxonomy: upstream 429 becomes
// ErrRateLimited, timeouts ErrUpstreamTimeout, everything else ErrUpstreamUnavailable.
func wrapUpstreamError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrUpstreamUnavailable),
		domain.IsKind(err, domain.ErrRateLimited),
		domain.IsKind(err, domain.ErrUpstreamTimeout),
		errors.Is(err, context.Canceled):
		return err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return domain.WrapError(domain.ErrRateLimited, operation, err)
	}
	if errors.Is(err, resilience.ErrCallTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrUpstreamTimeout, operation, err)
	}
	return domain.WrapError(domain.ErrUpstreamUnavailable, operation, err)
}
