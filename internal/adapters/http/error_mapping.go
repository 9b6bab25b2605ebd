package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func mapErrorToHTTPStatus(err error) int {
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.ErrorKindOf(err) {
	case domain.KindBadInput:
		return http.StatusBadRequest
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case domain.KindInsufficientEvidence, domain.KindInsufficientDiversity, domain.KindMalformedResult:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	body := errorBody{
		Error:     err.Error(),
		Kind:      string(domain.ErrorKindOf(err)),
		RequestID: requestIDFromContext(r.Context()),
	}
	if status == http.StatusNotFound {
		body.Kind = "NOT_FOUND"
	}
	if status == http.StatusInternalServerError {
		slog.Error("http_internal_error", "request_id", body.RequestID, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
