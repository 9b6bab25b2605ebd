package qdrant

import (
	"errors"

	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

func classifyQdrantError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return resilience.ClassifyStatus(statusErr.code)
	}
	return resilience.Permanent()
}
