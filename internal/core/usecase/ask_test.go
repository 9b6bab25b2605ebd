package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/core/retrieval"
	"github.com/kirillkom/chat-archive-insights/internal/core/stream"
)

var testNow = time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)

type fakeClassifier struct {
	result domain.IntentResult
	err    error
}

func (c fakeClassifier) Classify(context.Context, string) (domain.IntentResult, error) {
	return c.result, c.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (e fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return e.vector, e.err
}

type fakeStore struct {
	mu      sync.Mutex
	vector  []domain.Candidate
	text    []domain.Candidate
	filters []domain.Filter
	queries []string
}

func (s *fakeStore) SearchVector(_ context.Context, _ string, filter domain.Filter, _ []float32, _ int) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return s.vector, nil
}

func (s *fakeStore) SearchText(_ context.Context, _ string, filter domain.Filter, query string, _ int) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	s.queries = append(s.queries, query)
	return s.text, nil
}

type fakeGenerator struct {
	mu        sync.Mutex
	deltas    []string
	streamErr error
	json      string
	genErr    error
	generates int
	streams   []ports.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, _ ports.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generates++
	return g.json, g.genErr
}

func (g *fakeGenerator) Stream(_ context.Context, req ports.GenerateRequest, onDelta func(string) error) (string, error) {
	g.mu.Lock()
	g.streams = append(g.streams, req)
	g.mu.Unlock()
	if g.streamErr != nil {
		return "", g.streamErr
	}
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return "", err
		}
	}
	return strings.Join(g.deltas, ""), nil
}

type fakeRubrics struct {
	rubric domain.Rubric
	err    error
}

func (r fakeRubrics) GetRubric(context.Context, string) (domain.Rubric, error) {
	return r.rubric, r.err
}

type fakeRecorder struct {
	mu          sync.Mutex
	records     []domain.QueryRecord
	evaluations []domain.EvaluationResult
	err         error
}

func (r *fakeRecorder) RecordQuery(_ context.Context, record domain.QueryRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.records = append(r.records, record)
	return "query-1", nil
}

func (r *fakeRecorder) RecordEvaluation(_ context.Context, _ string, _ domain.Rubric, result domain.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations = append(r.evaluations, result)
	return nil
}

func (r *fakeRecorder) GetEvaluation(context.Context, string) (*domain.StoredEvaluation, error) {
	return nil, domain.ErrNotFound
}

type fakePublisher struct {
	events []domain.QueryRecordedEvent
}

func (p *fakePublisher) PublishQueryRecorded(_ context.Context, event domain.QueryRecordedEvent) error {
	p.events = append(p.events, event)
	return nil
}

type fakeObserver struct {
	observations []AskObservation
}

func (o *fakeObserver) ObserveAsk(obs AskObservation) {
	o.observations = append(o.observations, obs)
}

func chunkCandidate(id, room, text string, score float64, age time.Duration, provenance domain.Provenance) domain.Candidate {
	ts := testNow.Add(-age)
	return domain.Candidate{
		Chunk: domain.Chunk{
			ID:           id,
			ClientID:     "acme",
			RoomID:       room,
			RoomName:     "#" + room,
			Text:         text,
			FirstTS:      ts.Add(-time.Hour),
			LastTS:       ts,
			Participants: []string{"john", "sarah"},
		},
		Score:      score,
		Provenance: provenance,
	}
}

const day = 24 * time.Hour

type harness struct {
	store     *fakeStore
	generator *fakeGenerator
	recorder  *fakeRecorder
	publisher *fakePublisher
	observer  *fakeObserver
	sink      *stream.Recorder
}

func newHarness(t *testing.T, result domain.IntentResult, rubrics ports.RubricStore) (*AskUseCase, *harness) {
	t.Helper()
	h := &harness{
		store:     &fakeStore{},
		generator: &fakeGenerator{deltas: []string{"The team ", "agreed to move ", "the Q3 deadline."}},
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
		observer:  &fakeObserver{},
		sink:      &stream.Recorder{},
	}
	opts := DefaultAskOptions()
	opts.Now = func() time.Time { return testNow }
	uc := NewAskUseCase(
		fakeClassifier{result: result},
		fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		retrieval.NewHybridRetriever(h.store, retrieval.DefaultHybridConfig()),
		h.generator,
		rubrics,
		h.recorder,
		h.publisher,
		h.observer,
		opts,
	)
	return uc, h
}

func citationsOf(t *testing.T, events []domain.StreamEvent) []domain.Citation {
	t.Helper()
	for _, e := range events {
		if e.Kind == domain.EventCitations {
			return e.Payload.(domain.CitationsPayload).Citations
		}
	}
	t.Fatal("no citations event")
	return nil
}

func donePayload(t *testing.T, sink *stream.Recorder) domain.DonePayload {
	t.Helper()
	last, ok := sink.Last()
	require.True(t, ok)
	require.Equal(t, domain.EventDone, last.Kind)
	return last.Payload.(domain.DonePayload)
}

func TestAskEndToEndTimeWindowQuestion(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentRAG, Source: "llm"}, nil)
	h.store.vector = []domain.Candidate{
		chunkCandidate("c1", "eng", "release checklist for the q3 report was finalized by john", 0.82, 10*day, domain.ProvenanceVector),
		chunkCandidate("c2", "eng", "we agreed to push the q3 deadline by one week", 0.80, 2*day, domain.ProvenanceVector),
		chunkCandidate("c3", "pm", "sarah asked whether finance signed off on the numbers", 0.60, 5*day, domain.ProvenanceVector),
	}
	h.store.text = []domain.Candidate{
		chunkCandidate("c3", "pm", "sarah asked whether finance signed off on the numbers", 0, 5*day, domain.ProvenanceText),
		chunkCandidate("c4", "general", "reminder that the deadline for q3 submissions is friday", 0, 20*day, domain.ProvenanceText),
	}

	err := uc.Ask(context.Background(), domain.AskRequest{
		ClientID: "acme",
		Question: "What did the team say about the Q3 deadline last month?",
	}, h.sink)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.EventConnected, domain.EventMeta, domain.EventCitations,
		domain.EventToken, domain.EventToken, domain.EventToken, domain.EventDone,
	}, h.sink.Kinds())

	for _, f := range h.store.filters {
		assert.Equal(t, testNow.Add(-30*day), f.DateFrom)
		assert.Equal(t, testNow, f.DateTo)
	}

	meta := h.sink.Events()[1].Payload.(domain.MetaPayload)
	assert.Equal(t, domain.IntentRAG, meta.Intent)
	assert.Equal(t, "last month", meta.TimeWindow)

	citations := citationsOf(t, h.sink.Events())
	require.Len(t, citations, 4)
	assert.LessOrEqual(t, len(citations), 12)
	assert.Equal(t, "c2", citations[0].ID, "recency boost puts the fresher chunk first")
	seen := map[string]bool{}
	for _, c := range citations {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}

	assert.Equal(t, "The team agreed to move the Q3 deadline.", h.sink.Text())
	done := donePayload(t, h.sink)
	assert.Equal(t, "query-1", done.QueryID)
	assert.True(t, done.Persisted)
	assert.Empty(t, done.Notice)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, h.sink.Text(), h.recorder.records[0].Answer)
	assert.Equal(t, domain.QueryStatusAnswered, h.recorder.records[0].Status)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, 4, h.publisher.events[0].CitationCount)

	require.Len(t, h.observer.observations, 1)
	obs := h.observer.observations[0]
	assert.Equal(t, "done", obs.Outcome)
	assert.Equal(t, 4, obs.Fused)
	assert.Equal(t, 4, obs.Deduped)
}

func TestAskRejectsBadInputWithoutEvents(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentRAG}, nil)

	err := uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "   "}, h.sink)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
	assert.Empty(t, h.sink.Events())
	assert.Empty(t, h.observer.observations)
}

func TestValidateAskRequestRejectsInvertedDates(t *testing.T) {
	_, err := ValidateAskRequest(domain.AskRequest{
		ClientID: "acme",
		Question: "status?",
		Filter:   domain.Filter{DateFrom: testNow, DateTo: testNow.Add(-day)},
	})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestAskCasualSkipsRetrieval(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentCasual}, nil)
	h.generator.deltas = []string{"Good morning! ", "How can I help?"}

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "good morning"}, h.sink))

	assert.Empty(t, h.store.filters)
	assert.Empty(t, citationsOf(t, h.sink.Events()))
	assert.Equal(t, "Good morning! How can I help?", h.sink.Text())
	donePayload(t, h.sink)
}

func TestAskNoEvidenceAnswersAndFinishes(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentRAG}, nil)

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "who owns the billing service?"}, h.sink))

	assert.Equal(t, noEvidenceAnswer, h.sink.Text())
	assert.Empty(t, h.generator.streams)
	done := donePayload(t, h.sink)
	assert.Equal(t, domain.KindNoEvidence, done.Notice)
	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, domain.QueryStatusNoEvidence, h.recorder.records[0].Status)
}

func TestAskDegradesWhenEmbeddingFails(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentRAG}, nil)
	uc.embedder = fakeEmbedder{err: errors.New("embedding service down")}
	h.store.text = []domain.Candidate{chunkCandidate("t1", "eng", "billing service is owned by the payments team", 0, day, domain.ProvenanceText)}

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "who owns billing?"}, h.sink))

	citations := citationsOf(t, h.sink.Events())
	require.Len(t, citations, 1)
	assert.Equal(t, "t1", citations[0].ID)
	assert.Equal(t, []string{"vector"}, h.observer.observations[0].Degraded)
}

func evaluationRubric() domain.Rubric {
	return domain.Rubric{
		Name: "engineering",
		Drivers: []domain.Driver{
			{Key: "ownership", Weight: 1},
			{Key: "communication", Weight: 0.5},
		},
		Policy: domain.DefaultEvaluationPolicy(),
	}
}

func evaluationEvidence() []domain.Candidate {
	return []domain.Candidate{
		chunkCandidate("e1", "eng", "sarah took ownership of the outage and wrote the postmortem", 0.9, day, domain.ProvenanceVector),
		chunkCandidate("e2", "pm", "sarah shared a clear weekly status update with stakeholders", 0.85, 3*day, domain.ProvenanceVector),
		chunkCandidate("e3", "eng", "sarah reviewed every pull request for the migration", 0.8, 6*day, domain.ProvenanceVector),
	}
}

func TestAskEvaluationEmitsPayloadAfterTokens(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentEvaluation, Subject: "Sarah"}, fakeRubrics{rubric: evaluationRubric()})
	h.store.vector = evaluationEvidence()
	h.generator.json = `{"scores":[{"driver_key":"ownership","score":4,"weight":1,"citations":["e1","zz"]},
		{"driver_key":"communication","score":2,"weight":0.5}],"weighted_total":5,"summary":"Sarah owns incidents."}`

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "How is Sarah performing overall?"}, h.sink))

	kinds := h.sink.Kinds()
	require.GreaterOrEqual(t, len(kinds), 6)
	assert.Equal(t, domain.EventEvaluationPayload, kinds[len(kinds)-2])
	assert.Equal(t, domain.EventDone, kinds[len(kinds)-1])
	assert.Equal(t, []string{"Sarah"}, h.store.queries)

	payload := h.sink.Events()[len(kinds)-2].Payload.(domain.EvaluationResult)
	assert.InDelta(t, 10.0/3.0, payload.WeightedTotal, 1e-9)
	assert.Equal(t, "Sarah", payload.Subject)
	assert.Equal(t, []string{"e1"}, payload.Scores[0].Citations)
	assert.Equal(t, evaluationSummaryText(payload), h.sink.Text())

	require.Len(t, h.recorder.evaluations, 1)
	assert.True(t, h.publisher.events[0].Evaluated)
}

func TestAskEvaluationRefusesOnInsufficientEvidence(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentEvaluation, Subject: "Sarah"}, fakeRubrics{rubric: evaluationRubric()})
	h.store.vector = evaluationEvidence()[:2]

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "How is Sarah performing overall?"}, h.sink))

	assert.Contains(t, h.sink.Text(), "Insufficient evidence")
	assert.NotContains(t, h.sink.Kinds(), domain.EventEvaluationPayload)
	assert.Zero(t, h.generator.generates)
	assert.Equal(t, domain.KindInsufficientEvidence, donePayload(t, h.sink).Notice)
	assert.Equal(t, domain.QueryStatusRefused, h.recorder.records[0].Status)
}

func TestAskEvaluationSingleRoomWithoutLeniencyFallsBackToNarrative(t *testing.T) {
	rubric := evaluationRubric()
	rubric.Policy.DiversityLeniencyMinItems = 0
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentEvaluation, Subject: "Sarah"}, fakeRubrics{rubric: rubric})
	evidenceSet := evaluationEvidence()
	for i := range evidenceSet {
		evidenceSet[i].RoomID = "eng"
	}
	h.store.vector = evidenceSet
	h.generator.deltas = []string{"Sarah is ", "active in #eng."}

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "How is Sarah performing overall?"}, h.sink))

	assert.Zero(t, h.generator.generates)
	assert.Equal(t, "Sarah is active in #eng.", h.sink.Text())
	assert.Equal(t, domain.KindInsufficientDiversity, donePayload(t, h.sink).Notice)
	assert.Empty(t, h.recorder.evaluations)
}

func TestAskEvaluationMalformedResultFallsBackOnce(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentEvaluation, Subject: "Sarah"}, fakeRubrics{rubric: evaluationRubric()})
	h.store.vector = evaluationEvidence()
	h.generator.json = `{"scores":[]}`
	h.generator.deltas = []string{"Sarah shows strong ownership."}

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "How is Sarah performing overall?"}, h.sink))

	assert.Equal(t, 1, h.generator.generates)
	assert.Len(t, h.generator.streams, 1)
	assert.NotContains(t, h.sink.Kinds(), domain.EventEvaluationPayload)
	assert.Equal(t, domain.KindMalformedResult, donePayload(t, h.sink).Notice)
}

func TestAskRateLimitedEmitsErrorWithoutDone(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentCasual}, nil)
	h.generator.streamErr = domain.WrapError(domain.ErrRateLimited, "ollama stream", errors.New("60 requests per minute"))

	err := uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "hi"}, h.sink)
	require.Error(t, err)

	last, ok := h.sink.Last()
	require.True(t, ok)
	assert.Equal(t, domain.EventError, last.Kind)
	assert.Equal(t, domain.KindRateLimited, last.Payload.(domain.ErrorPayload).Kind)
	assert.NotContains(t, h.sink.Kinds(), domain.EventDone)
	assert.Empty(t, h.recorder.records)
	assert.Equal(t, domain.KindRateLimited, h.observer.observations[0].ErrorKind)
}

func TestAskStopsWhenCallerDisconnects(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentCasual}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	rec := &stream.Recorder{}
	sink := stream.SinkFunc(func(ctx context.Context, event domain.StreamEvent) error {
		if err := rec.Send(ctx, event); err != nil {
			return err
		}
		if event.Kind == domain.EventToken {
			cancel()
		}
		return nil
	})

	err := uc.Ask(ctx, domain.AskRequest{ClientID: "acme", Question: "hi"}, sink)
	require.ErrorIs(t, err, context.Canceled)

	kinds := rec.Kinds()
	assert.Equal(t, domain.EventToken, kinds[len(kinds)-1])
	assert.Empty(t, h.recorder.records)
	assert.Equal(t, "cancelled", h.observer.observations[0].Outcome)
}

func TestAskPersistenceFailureStillFinishes(t *testing.T) {
	uc, h := newHarness(t, domain.IntentResult{Intent: domain.IntentCasual}, nil)
	h.recorder.err = errors.New("connection refused")

	require.NoError(t, uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "hello"}, h.sink))

	done := donePayload(t, h.sink)
	assert.False(t, done.Persisted)
	assert.Empty(t, done.QueryID)
	assert.Empty(t, h.publisher.events)
}

func TestSplitFragmentsReconstructsText(t *testing.T) {
	for _, text := range []string{"", "one", "two words", "  leading and trailing  ", "tabs\tand\nnewlines"} {
		assert.Equal(t, text, strings.Join(splitFragments(text), ""))
	}
	assert.Equal(t, []string{"a ", "b  ", "c"}, splitFragments("a b  c"))
}

func TestFormatTimeSpan(t *testing.T) {
	start := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "Sep 1, 2026 09:30 - 11:00", formatTimeSpan(start, start.Add(90*time.Minute)))
	assert.Equal(t, "Sep 1, 2026 - Sep 3, 2026", formatTimeSpan(start, start.Add(48*time.Hour)))
	assert.Equal(t, "", formatTimeSpan(time.Time{}, time.Time{}))
}

type blockingStore struct{}

func (blockingStore) SearchVector(ctx context.Context, _ string, _ domain.Filter, _ []float32, _ int) ([]domain.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) SearchText(ctx context.Context, _ string, _ domain.Filter, _ string, _ int) ([]domain.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAskSessionTimeoutDuringRetrievalEmitsError(t *testing.T) {
	recorder := &fakeRecorder{}
	observer := &fakeObserver{}
	sink := &stream.Recorder{}
	opts := DefaultAskOptions()
	opts.Now = func() time.Time { return testNow }
	opts.Timeout = 50 * time.Millisecond
	uc := NewAskUseCase(
		fakeClassifier{result: domain.IntentResult{Intent: domain.IntentRAG}},
		fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		retrieval.NewHybridRetriever(blockingStore{}, retrieval.DefaultHybridConfig()),
		&fakeGenerator{},
		nil,
		recorder,
		&fakePublisher{},
		observer,
		opts,
	)

	err := uc.Ask(context.Background(), domain.AskRequest{ClientID: "acme", Question: "what did the team decide about pricing?"}, sink)
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)

	last, ok := sink.Last()
	require.True(t, ok)
	require.Equal(t, domain.EventError, last.Kind)
	assert.Equal(t, domain.KindUpstreamTimeout, last.Payload.(domain.ErrorPayload).Kind)
	assert.NotContains(t, sink.Kinds(), domain.EventDone)
	assert.NotContains(t, sink.Kinds(), domain.EventToken)
	assert.Empty(t, recorder.records)
	assert.Equal(t, domain.KindUpstreamTimeout, observer.observations[0].ErrorKind)
}
