package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

type fakeChunkStore struct {
	mu sync.Mutex

	vector    []domain.Candidate
	vectorErr error
	text      map[string][]domain.Candidate
	textErr   error

	vectorCalls int
	textQueries []string
	filters     []domain.Filter
}

func (s *fakeChunkStore) SearchVector(_ context.Context, _ string, filter domain.Filter, _ []float32, _ int) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectorCalls++
	s.filters = append(s.filters, filter)
	return s.vector, s.vectorErr
}

func (s *fakeChunkStore) SearchText(_ context.Context, _ string, filter domain.Filter, query string, _ int) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textQueries = append(s.textQueries, query)
	s.filters = append(s.filters, filter)
	if s.textErr != nil {
		return nil, s.textErr
	}
	return s.text[query], nil
}

func TestFuseMarksOverlapAsHybrid(t *testing.T) {
	vector := []domain.Candidate{cand("v1", "one", 0.82), cand("both", "two", 0.7)}
	text := []domain.Candidate{cand("both", "two", 3.1), cand("t1", "three", 9.9)}

	out := Fuse(vector, text, 0.5, 0.1)
	require.Len(t, out, 3)

	byID := map[string]domain.Candidate{}
	for _, c := range out {
		byID[c.ID] = c
	}
	assert.Equal(t, domain.ProvenanceHybrid, byID["both"].Provenance)
	assert.InDelta(t, 0.8, byID["both"].Score, 1e-9)
	assert.Equal(t, domain.ProvenanceVector, byID["v1"].Provenance)
	assert.Equal(t, domain.ProvenanceText, byID["t1"].Provenance)
	assert.InDelta(t, 0.5, byID["t1"].Score, 1e-9, "text-only hits take the fixed moderate score")
	assert.Equal(t, "v1", out[0].ID)
}

func TestFuseIgnoresStoreTextScoresButKeepsTheirOrder(t *testing.T) {
	text := []domain.Candidate{cand("t1", "one", 0.2), cand("t2", "two", 7.5), cand("t3", "three", 1)}

	out := Fuse(nil, text, 0.5, 0.1)
	require.Len(t, out, 3)
	for i, id := range []string{"t1", "t2", "t3"} {
		assert.Equal(t, id, out[i].ID)
		assert.InDelta(t, 0.5, out[i].Score, 1e-9)
	}
}

func TestRetrieveRunsBothSearchesWithSameFilter(t *testing.T) {
	question := "what changed in the launch plan"
	store := &fakeChunkStore{
		vector: []domain.Candidate{cand("a", "launch plan", 0.9)},
		text:   map[string][]domain.Candidate{question: {cand("b", "plan changed", 1)}},
	}
	filter := domain.Filter{RoomIDs: []string{"r1"}}
	retriever := NewHybridRetriever(store, HybridConfig{MinUsefulResults: 1})

	got, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		ClientID:    "client-1",
		Filter:      filter,
		Question:    question,
		QueryVector: []float32{0.1, 0.2},
	})
	require.NoError(t, err)
	assert.Len(t, got.Fused, 2)
	assert.Equal(t, 1, store.vectorCalls)
	assert.Equal(t, []string{question}, store.textQueries)
	for _, f := range store.filters {
		assert.Equal(t, filter, f)
	}
	assert.Empty(t, got.Degraded())
}

func TestRetrieveWithoutVectorIsTextOnly(t *testing.T) {
	question := "release notes"
	store := &fakeChunkStore{text: map[string][]domain.Candidate{question: {cand("t", "release notes v2", 2)}}}
	retriever := NewHybridRetriever(store, HybridConfig{})

	got, err := retriever.Retrieve(context.Background(), RetrieveRequest{ClientID: "c", Question: question})
	require.NoError(t, err)
	assert.Equal(t, 0, store.vectorCalls)
	assert.False(t, got.Vector.OK())
	require.Len(t, got.Fused, 1)
	assert.Equal(t, domain.ProvenanceText, got.Fused[0].Provenance)
}

func TestRetrieveDegradesWhenBothSearchesFail(t *testing.T) {
	store := &fakeChunkStore{vectorErr: errors.New("pg down"), textErr: errors.New("pg down")}
	retriever := NewHybridRetriever(store, HybridConfig{})

	got, err := retriever.Retrieve(context.Background(), RetrieveRequest{
		ClientID:    "c",
		Question:    "anything new",
		QueryVector: []float32{1},
	})
	require.NoError(t, err)
	assert.NotNil(t, got.Fused)
	assert.Empty(t, got.Fused)
	assert.ElementsMatch(t, []string{"vector", "text"}, got.Degraded())
}

func TestRetrieveRejectsInvalidInput(t *testing.T) {
	retriever := NewHybridRetriever(&fakeChunkStore{}, HybridConfig{})

	_, err := retriever.Retrieve(context.Background(), RetrieveRequest{Question: "q"})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	_, err = retriever.Retrieve(context.Background(), RetrieveRequest{ClientID: "c", Question: "  "})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestRetrieveBroadensNarrowKeywordQueryOnce(t *testing.T) {
	question := "Did anyone miss the deadline for the Q3 report?"
	broad := BroadenedQuery(question)
	require.Equal(t, "anyone or miss or q3 or report", broad)

	store := &fakeChunkStore{
		text: map[string][]domain.Candidate{
			broad: {cand("w1", "q3 report draft shared", 1), cand("w2", "report review", 1)},
		},
	}
	retriever := NewHybridRetriever(store, HybridConfig{MinUsefulResults: 3})

	got, err := retriever.Retrieve(context.Background(), RetrieveRequest{ClientID: "c", Question: question})
	require.NoError(t, err)
	assert.Equal(t, []string{question, broad}, store.textQueries, "exactly one broadened retry after the first pair")
	require.NotNil(t, got.Broadened)
	assert.Len(t, got.Fused, 2)
}

func TestRetrieveSkipsBroadeningForUsefulOrGeneralQueries(t *testing.T) {
	store := &fakeChunkStore{}
	retriever := NewHybridRetriever(store, HybridConfig{MinUsefulResults: 3})

	got, err := retriever.Retrieve(context.Background(), RetrieveRequest{ClientID: "c", Question: "who ordered lunch"})
	require.NoError(t, err)
	assert.Nil(t, got.Broadened)
	assert.Len(t, store.textQueries, 1)
}
