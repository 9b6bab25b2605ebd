package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/evidence"
	"github.com/kirillkom/chat-archive-insights/internal/core/intent"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/core/retrieval"
	"github.com/kirillkom/chat-archive-insights/internal/core/stream"
)

const maxQuestionRunes = 2000

// CandidateRetriever is satisfied by retrieval.HybridRetriever.
type CandidateRetriever interface {
	Retrieve(ctx context.Context, req retrieval.RetrieveRequest) (retrieval.Retrieval, error)
}

// RerankProfiles selects MMR settings per question type.
type RerankProfiles struct {
	Default    retrieval.MMRConfig
	TimeWindow retrieval.MMRConfig
	Evaluation retrieval.MMRConfig
}

func DefaultRerankProfiles() RerankProfiles {
	def := retrieval.DefaultMMRConfig()

	window := def
	window.MaxResults = 12
	window.RecencyWeight = 0.3

	eval := def
	eval.MaxResults = 20
	eval.KeywordBoost = 0.1

	return RerankProfiles{Default: def, TimeWindow: window, Evaluation: eval}
}

type AskOptions struct {
	Profiles              RerankProfiles
	DedupeThreshold       float64
	Timeout               time.Duration
	AnswerTemperature     float64
	EvaluationTemperature float64
	MaxAnswerTokens       int
	Now                   func() time.Time
}

func DefaultAskOptions() AskOptions {
	return AskOptions{
		Profiles:              DefaultRerankProfiles(),
		DedupeThreshold:       retrieval.DefaultDedupeThreshold,
		Timeout:               90 * time.Second,
		AnswerTemperature:     0.3,
		EvaluationTemperature: 0.2,
		MaxAnswerTokens:       800,
		Now:                   time.Now,
	}
}

// AskObservation summarizes one finished ask for metrics.
type AskObservation struct {
	Intent     domain.Intent
	Outcome    string
	ErrorKind  domain.ErrorKind
	Notice     domain.ErrorKind
	VectorHits int
	TextHits   int
	Fused      int
	Deduped    int
	Selected   int
	Degraded   []string
	Broadened  bool
	Events     []domain.EventKind
	Latency    time.Duration
}

type AskObserver interface {
	ObserveAsk(obs AskObservation)
}

type AskUseCase struct {
	classifier intent.Classifier
	embedder   ports.Embedder
	retriever  CandidateRetriever
	generator  ports.Generator
	rubrics    ports.RubricStore
	recorder   ports.QueryRecorder
	publisher  ports.EventPublisher
	observer   AskObserver
	opts       AskOptions
	tracer     trace.Tracer
}

// NewAskUseCase wires the pipeline. publisher and observer may be nil.
func NewAskUseCase(
	classifier intent.Classifier,
	embedder ports.Embedder,
	retriever CandidateRetriever,
	generator ports.Generator,
	rubrics ports.RubricStore,
	recorder ports.QueryRecorder,
	publisher ports.EventPublisher,
	observer AskObserver,
	opts AskOptions,
) *AskUseCase {
	def := DefaultAskOptions()
	if opts.Profiles.Default.MaxResults <= 0 {
		opts.Profiles.Default = def.Profiles.Default
	}
	if opts.Profiles.TimeWindow.MaxResults <= 0 {
		opts.Profiles.TimeWindow = def.Profiles.TimeWindow
	}
	if opts.Profiles.Evaluation.MaxResults <= 0 {
		opts.Profiles.Evaluation = def.Profiles.Evaluation
	}
	if opts.DedupeThreshold <= 0 || opts.DedupeThreshold > 1 {
		opts.DedupeThreshold = def.DedupeThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAnswerTokens <= 0 {
		opts.MaxAnswerTokens = def.MaxAnswerTokens
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &AskUseCase{
		classifier: classifier,
		embedder:   embedder,
		retriever:  retriever,
		generator:  generator,
		rubrics:    rubrics,
		recorder:   recorder,
		publisher:  publisher,
		observer:   observer,
		opts:       opts,
		tracer:     otel.Tracer("github.com/kirillkom/chat-archive-insights/internal/core/usecase"),
	}
}

// ValidateAskRequest trims the request and rejects it before any event is emitted.
func ValidateAskRequest(req domain.AskRequest) (domain.AskRequest, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Question = strings.TrimSpace(req.Question)
	if req.ClientID == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("client_id is required"))
	}
	if req.Question == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}
	if len([]rune(req.Question)) > maxQuestionRunes {
		return req, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question exceeds %d characters", maxQuestionRunes))
	}
	if !req.Filter.DateFrom.IsZero() && !req.Filter.DateTo.IsZero() && req.Filter.DateTo.Before(req.Filter.DateFrom) {
		return req, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("date_to is before date_from"))
	}
	return req, nil
}

// askRun is the request-scoped state of one pipeline invocation.
type askRun struct {
	req        domain.AskRequest
	intent     domain.IntentResult
	filter     domain.Filter
	window     *retrieval.TimeWindow
	retrieval  retrieval.Retrieval
	deduped    int
	selected   []domain.Candidate
	citations  []domain.Citation
	status     domain.QueryStatus
	notice     domain.ErrorKind
	rubric     *domain.Rubric
	evaluation *domain.EvaluationResult
}

// Ask runs the pipeline and streams its events to sink. BAD_INPUT is returned without emitting
// anything; every other failure is emitted as a terminal error event and also returned.
func (uc *AskUseCase) Ask(ctx context.Context, req domain.AskRequest, sink ports.EventSink) error {
	req, err := ValidateAskRequest(req)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		req.CorrelationID = uuid.NewString()
	}

	ctx, span := uc.tracer.Start(ctx, "ask", trace.WithAttributes(
		attribute.String("correlation_id", req.CorrelationID),
		attribute.String("client_id", req.ClientID),
	))
	defer span.End()

	session := stream.NewSession(ctx, req.CorrelationID, sink)
	workCtx, cancel := context.WithTimeout(ctx, uc.opts.Timeout)
	defer cancel()

	run := &askRun{req: req}
	err = uc.run(workCtx, session, run)

	obs := AskObservation{
		Intent:     run.intent.Intent,
		Notice:     run.notice,
		VectorHits: len(run.retrieval.Vector.Candidates),
		TextHits:   len(run.retrieval.Text.Candidates),
		Fused:      len(run.retrieval.Fused),
		Deduped:    run.deduped,
		Selected:   len(run.selected),
		Degraded:   run.retrieval.Degraded(),
		Broadened:  run.retrieval.Broadened != nil,
	}
	defer func() {
		obs.Events = session.Kinds()
		obs.Latency = session.Elapsed()
		if uc.observer != nil {
			uc.observer.ObserveAsk(obs)
		}
	}()

	if err == nil {
		obs.Outcome = "done"
		span.SetAttributes(attribute.String("intent", string(run.intent.Intent)), attribute.Int("citations", len(run.citations)))
		slog.Info("ask_completed",
			"correlation_id", req.CorrelationID,
			"intent", run.intent.Intent,
			"status", run.status,
			"citations", len(run.citations),
			"latency_ms", session.Elapsed().Milliseconds(),
		)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ctx.Err() != nil || errors.Is(err, stream.ErrSessionClosed) {
		obs.Outcome = "cancelled"
		slog.Info("ask_cancelled", "correlation_id", req.CorrelationID, "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	kind := domain.ErrorKindOf(err)
	if errors.Is(workCtx.Err(), context.DeadlineExceeded) {
		kind = domain.KindUpstreamTimeout
	}
	obs.Outcome = "error"
	obs.ErrorKind = kind

	if kind == domain.KindInternal {
		slog.Error("ask_failed", "correlation_id", req.CorrelationID, "kind", kind, "error", err)
	} else {
		slog.Warn("ask_failed", "correlation_id", req.CorrelationID, "kind", kind, "error", err)
	}
	if failErr := session.Fail(kind, errorMessage(kind)); failErr != nil && !errors.Is(failErr, stream.ErrSessionClosed) {
		slog.Warn("ask_error_event_failed", "correlation_id", req.CorrelationID, "error", failErr)
	}
	return err
}

func (uc *AskUseCase) run(ctx context.Context, session *stream.Session, run *askRun) error {
	if err := session.Connected(); err != nil {
		return err
	}

	result, err := uc.classifier.Classify(ctx, run.req.Question)
	if err != nil {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "classify", err)
	}
	run.intent = result

	now := uc.opts.Now()
	if result.Intent == domain.IntentCasual {
		run.filter = run.req.Filter.Clone()
	} else {
		run.filter, run.window = retrieval.ApplyTimeWindow(run.req.Question, run.req.Filter, now)
	}

	meta := domain.MetaPayload{
		Intent:           result.Intent,
		Subject:          result.Subject,
		Filters:          run.filter,
		IntentSource:     result.Source,
		IntentDowngraded: result.Downgraded,
	}
	if run.window != nil {
		meta.TimeWindow = run.window.Phrase
	}
	if err := session.Meta(meta); err != nil {
		return err
	}

	switch result.Intent {
	case domain.IntentCasual:
		if err := session.Citations(nil); err != nil {
			return err
		}
		if err := uc.streamAnswer(ctx, session, ports.GenerateRequest{
			Prompt:      buildCasualPrompt(run.req.Question),
			System:      casualSystemPrompt,
			Temperature: uc.opts.AnswerTemperature,
			MaxTokens:   uc.opts.MaxAnswerTokens,
		}); err != nil {
			return err
		}
		run.status = domain.QueryStatusAnswered
	default:
		if err := uc.gather(ctx, run, now); err != nil {
			return err
		}
		run.citations = buildCitations(run.selected)
		if err := session.Citations(run.citations); err != nil {
			return err
		}
		if len(run.selected) == 0 {
			run.status = domain.QueryStatusNoEvidence
			run.notice = domain.KindNoEvidence
			if err := session.Token(noEvidenceAnswer); err != nil {
				return err
			}
			break
		}
		if result.Intent == domain.IntentEvaluation {
			if err := uc.evaluate(ctx, session, run); err != nil {
				return err
			}
			break
		}
		if err := uc.streamAnswer(ctx, session, ports.GenerateRequest{
			Prompt:      buildAnswerPrompt(run.req.Question, run.selected),
			System:      answerSystemPrompt,
			Temperature: uc.opts.AnswerTemperature,
			MaxTokens:   uc.opts.MaxAnswerTokens,
		}); err != nil {
			return err
		}
		run.status = domain.QueryStatusAnswered
	}

	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrUpstreamTimeout, "ask", err)
	}
	queryID, persisted := uc.persist(ctx, session, run)
	return session.Done(domain.DonePayload{QueryID: queryID, Persisted: persisted, Notice: run.notice})
}

// gather retrieves, re-checks, dedupes, and reranks the evidence set.
func (uc *AskUseCase) gather(ctx context.Context, run *askRun, now time.Time) error {
	ctx, span := uc.tracer.Start(ctx, "ask.retrieve")
	defer span.End()

	var vector []float32
	if uc.embedder != nil {
		v, err := uc.embedder.EmbedQuery(ctx, run.req.Question)
		if err != nil {
			slog.Warn("embedding_unavailable", "correlation_id", run.req.CorrelationID, "error", err)
		} else {
			vector = v
		}
	}

	textQuery := run.req.Question
	if run.intent.Intent == domain.IntentEvaluation && run.intent.Subject != "" {
		textQuery = run.intent.Subject
	}

	res, err := uc.retriever.Retrieve(ctx, retrieval.RetrieveRequest{
		ClientID:    run.req.ClientID,
		Filter:      run.filter,
		Question:    textQuery,
		QueryVector: vector,
	})
	if err != nil {
		return err
	}
	run.retrieval = res
	// Sub-searches degrade on an expired deadline; an empty result here is not "no evidence".
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrUpstreamTimeout, "retrieve", err)
	}

	scoped := make([]domain.Candidate, 0, len(res.Fused))
	for _, c := range res.Fused {
		if run.filter.Matches(c.Chunk) {
			scoped = append(scoped, c)
		}
	}
	if dropped := len(res.Fused) - len(scoped); dropped > 0 {
		slog.Warn("candidates_outside_filter", "correlation_id", run.req.CorrelationID, "dropped", dropped)
	}

	unique := retrieval.Dedupe(scoped, uc.opts.DedupeThreshold)
	run.deduped = len(unique)

	cfg := uc.profileFor(run)
	cfg.Now = now
	run.selected = retrieval.Rerank(unique, cfg)

	span.SetAttributes(
		attribute.Int("fused", len(res.Fused)),
		attribute.Int("deduped", len(unique)),
		attribute.Int("selected", len(run.selected)),
	)
	return nil
}

func (uc *AskUseCase) profileFor(run *askRun) retrieval.MMRConfig {
	switch {
	case run.intent.Intent == domain.IntentEvaluation:
		cfg := uc.opts.Profiles.Evaluation
		if run.intent.Subject != "" {
			cfg.Keywords = append(append([]string(nil), cfg.Keywords...), run.intent.Subject)
		}
		return cfg
	case run.window != nil:
		return uc.opts.Profiles.TimeWindow
	default:
		return uc.opts.Profiles.Default
	}
}

// evaluate applies the evidence policy and scores the subject, falling back to a narrative
// when the policy or the scoring output does not allow a scored result.
func (uc *AskUseCase) evaluate(ctx context.Context, session *stream.Session, run *askRun) error {
	subject := run.intent.Subject

	rubric, err := uc.loadRubric(ctx, run.req.ClientID)
	if err != nil {
		slog.Warn("rubric_unavailable", "correlation_id", run.req.CorrelationID, "error", err)
		return uc.narrative(ctx, session, run)
	}

	decision := evidence.Enforce(run.selected, rubric.Policy)
	switch {
	case decision.Failure != nil && decision.Failure.Reason == domain.KindInsufficientEvidence:
		run.status = domain.QueryStatusRefused
		run.notice = decision.Failure.Reason
		return session.Token(decision.Failure.Message)
	case decision.Failure != nil:
		run.notice = decision.Failure.Reason
		slog.Info("evaluation_downgraded", "correlation_id", run.req.CorrelationID, "reason", decision.Failure.Reason)
		return uc.narrative(ctx, session, run)
	case decision.Warning != nil:
		run.notice = decision.Warning.Reason
		slog.Info("evidence_policy_lenient", "correlation_id", run.req.CorrelationID,
			"items", len(run.selected), "rooms", evidence.DistinctRooms(run.selected))
	}

	ctx, span := uc.tracer.Start(ctx, "ask.evaluate")
	text, err := uc.generator.Generate(ctx, ports.GenerateRequest{
		Prompt:      buildEvaluationPrompt(subject, rubric, run.selected),
		System:      evaluationSystemPrompt,
		Temperature: uc.opts.EvaluationTemperature,
		JSON:        true,
	})
	span.End()
	if err != nil {
		return fmt.Errorf("generate evaluation: %w", err)
	}

	result, err := scoreEvaluation(text, rubric, run.selected)
	if err != nil {
		slog.Warn("evaluation_malformed", "correlation_id", run.req.CorrelationID, "error", err)
		run.notice = domain.KindMalformedResult
		return uc.narrative(ctx, session, run)
	}
	result.Subject = subject
	result.RubricName = rubric.Name

	for _, fragment := range splitFragments(evaluationSummaryText(result)) {
		if err := session.Token(fragment); err != nil {
			return err
		}
	}
	if err := session.EvaluationPayload(result); err != nil {
		return err
	}
	run.rubric = &rubric
	run.evaluation = &result
	run.status = domain.QueryStatusAnswered
	return nil
}

func (uc *AskUseCase) loadRubric(ctx context.Context, clientID string) (domain.Rubric, error) {
	if uc.rubrics == nil {
		return domain.Rubric{}, errors.New("rubric store not configured")
	}
	rubric, err := uc.rubrics.GetRubric(ctx, clientID)
	if err != nil {
		return domain.Rubric{}, err
	}
	if rubric.Policy.ScaleMax <= rubric.Policy.ScaleMin {
		def := domain.DefaultEvaluationPolicy()
		rubric.Policy.ScaleMin, rubric.Policy.ScaleMax = def.ScaleMin, def.ScaleMax
	}
	return rubric, nil
}

func scoreEvaluation(text string, rubric domain.Rubric, evidenceSet []domain.Candidate) (domain.EvaluationResult, error) {
	raw, err := evidence.ParseRawResult(text)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	result, err := evidence.ValidateAndClamp(raw, rubric.Policy, rubric.Drivers)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	if rubric.Policy.RequireCitations {
		restrictCitations(&result, evidenceSet)
	}
	return result, nil
}

// restrictCitations drops citation ids that do not name an excerpt in the evidence set.
func restrictCitations(result *domain.EvaluationResult, evidenceSet []domain.Candidate) {
	known := make(map[string]struct{}, len(evidenceSet))
	for _, c := range evidenceSet {
		known[c.ID] = struct{}{}
	}
	for i := range result.Scores {
		kept := make([]string, 0, len(result.Scores[i].Citations))
		for _, id := range result.Scores[i].Citations {
			if _, ok := known[id]; ok {
				kept = append(kept, id)
			}
		}
		result.Scores[i].Citations = kept
	}
}

// narrative is the one unscored fallback generation for the evaluation path.
func (uc *AskUseCase) narrative(ctx context.Context, session *stream.Session, run *askRun) error {
	if err := uc.streamAnswer(ctx, session, ports.GenerateRequest{
		Prompt:      buildNarrativePrompt(run.intent.Subject, run.req.Question, run.selected),
		System:      narrativeSystemPrompt,
		Temperature: uc.opts.AnswerTemperature,
		MaxTokens:   uc.opts.MaxAnswerTokens,
	}); err != nil {
		return err
	}
	run.status = domain.QueryStatusAnswered
	return nil
}

func (uc *AskUseCase) streamAnswer(ctx context.Context, session *stream.Session, req ports.GenerateRequest) error {
	ctx, span := uc.tracer.Start(ctx, "ask.generate")
	defer span.End()

	full, err := uc.generator.Stream(ctx, req, session.Token)
	if err != nil {
		return fmt.Errorf("stream answer: %w", err)
	}
	// Some backends return the text without calling onDelta.
	if session.Answer() == "" && full != "" {
		return session.Token(full)
	}
	return nil
}

// persist stores the completed query. Failures are logged and reported as persisted=false.
func (uc *AskUseCase) persist(ctx context.Context, session *stream.Session, run *askRun) (string, bool) {
	if uc.recorder == nil {
		return "", false
	}
	record := domain.QueryRecord{
		ClientID:      run.req.ClientID,
		CorrelationID: run.req.CorrelationID,
		Question:      run.req.Question,
		Intent:        run.intent.Intent,
		Subject:       run.intent.Subject,
		Filter:        run.filter,
		Answer:        session.Answer(),
		Citations:     run.citations,
		Status:        run.status,
		Latency:       session.Elapsed(),
		CreatedAt:     uc.opts.Now().UTC(),
	}
	if record.Citations == nil {
		record.Citations = []domain.Citation{}
	}

	queryID, err := uc.recorder.RecordQuery(ctx, record)
	if err != nil {
		slog.Warn("query_persist_failed", "correlation_id", run.req.CorrelationID, "error", err)
		return "", false
	}

	evaluated := false
	if run.evaluation != nil && run.rubric != nil {
		if err := uc.recorder.RecordEvaluation(ctx, queryID, *run.rubric, *run.evaluation); err != nil {
			slog.Warn("evaluation_persist_failed", "correlation_id", run.req.CorrelationID, "query_id", queryID, "error", err)
		} else {
			evaluated = true
		}
	}

	if uc.publisher != nil {
		event := domain.QueryRecordedEvent{
			QueryID:       queryID,
			ClientID:      record.ClientID,
			CorrelationID: record.CorrelationID,
			Intent:        record.Intent,
			Subject:       record.Subject,
			Status:        string(record.Status),
			CitationCount: len(record.Citations),
			Evaluated:     evaluated,
			LatencyMS:     record.Latency.Milliseconds(),
			RecordedAt:    record.CreatedAt,
		}
		if err := uc.publisher.PublishQueryRecorded(ctx, event); err != nil {
			slog.Warn("query_event_publish_failed", "correlation_id", run.req.CorrelationID, "query_id", queryID, "error", err)
		}
	}
	return queryID, true
}

func errorMessage(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindRateLimited:
		return "The generation service is busy. Retry in a minute."
	case domain.KindUpstreamTimeout:
		return "The request timed out. Retry, or narrow the question or filters."
	case domain.KindUpstreamUnavailable:
		return "A required service is unavailable. Retry shortly."
	case domain.KindMalformedResult:
		return "The generation service returned an unusable result."
	case domain.KindBadInput:
		return "The request is invalid."
	default:
		return "Internal error."
	}
}
