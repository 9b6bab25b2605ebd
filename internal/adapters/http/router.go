package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/core/usecase"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/chat-archive-insights/internal/observability/metrics"
)

const maxAskBodyBytes = 64 << 10

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	cfg         RouterConfig
	asker       ports.QuestionAnswerer
	evaluations ports.EvaluationReader
	metrics     *metrics.HTTPServerMetrics
}

// NewRouter builds the HTTP surface. serverMetrics may be nil.
func NewRouter(
	cfg RouterConfig,
	asker ports.QuestionAnswerer,
	evaluations ports.EvaluationReader,
	serverMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:         cfg,
		asker:       asker,
		evaluations: evaluations,
		metrics:     serverMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	mux.HandleFunc("GET /v1/queries/{id}/evaluation", rt.getEvaluation)
	mux.HandleFunc("GET /v1/queries/{id}/evaluation.xlsx", rt.exportEvaluation)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.RateLimitRPS > 0 {
		var onThrottle func(string)
		if rt.metrics != nil {
			onThrottle = rt.metrics.RecordThrottled
		}
		handler = rateLimitMiddleware(handler, newIPRateLimiter(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst), onThrottle)
	}
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	handler = accessLogMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askFilters struct {
	RoomIDs      []string `json:"room_ids"`
	RoomTypes    []string `json:"room_types"`
	DateFrom     string   `json:"date_from"`
	DateTo       string   `json:"date_to"`
	Participants []string `json:"participants"`
}

type askRequestBody struct {
	ClientID string     `json:"client_id"`
	Question string     `json:"question"`
	Filters  askFilters `json:"filters"`
}

func (b askRequestBody) toDomain() (domain.AskRequest, error) {
	from, err := parseFilterTime("date_from", b.Filters.DateFrom, false)
	if err != nil {
		return domain.AskRequest{}, err
	}
	to, err := parseFilterTime("date_to", b.Filters.DateTo, true)
	if err != nil {
		return domain.AskRequest{}, err
	}
	return domain.AskRequest{
		ClientID: b.ClientID,
		Question: b.Question,
		Filter: domain.Filter{
			RoomIDs:      b.Filters.RoomIDs,
			RoomTypes:    b.Filters.RoomTypes,
			DateFrom:     from,
			DateTo:       to,
			Participants: b.Filters.Participants,
		},
	}, nil
}

func parseFilterTime(field, value string, upperBound bool) (time.Time, error) {
	ts, err := domain.ParseFilterDate(value, upperBound)
	if err != nil {
		return time.Time{}, domain.WrapError(domain.ErrInvalidInput, "parse_filters", fmt.Errorf("%s: %w", field, err))
	}
	return ts, nil
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var body askRequestBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode_request", errors.New("invalid json")))
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err = usecase.ValidateAskRequest(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req.CorrelationID = requestIDFromContext(r.Context())

	sink, err := newSSESink(w)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if err := rt.asker.Ask(ctx, req, sink); err != nil && !sink.Started() {
		writeError(w, r, err)
	}
}

func (rt *Router) loadEvaluation(w http.ResponseWriter, r *http.Request) (*domain.StoredEvaluation, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "get_evaluation", errors.New("query id is required")))
		return nil, false
	}
	stored, err := rt.evaluations.GetEvaluation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return stored, true
}

func (rt *Router) getEvaluation(w http.ResponseWriter, r *http.Request) {
	stored, ok := rt.loadEvaluation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (rt *Router) exportEvaluation(w http.ResponseWriter, r *http.Request) {
	stored, ok := rt.loadEvaluation(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteEvaluation(&buf, *stored); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evaluation-%s.xlsx"`, stored.QueryID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
