package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

const (
	DefaultCollection = "archive_chunks"

	denseVectorName  = "dense"
	sparseVectorName = "text"
)

// pointNamespace derives stable point ids from chunk ids.
var pointNamespace = uuid.MustParse("5b0f6c0e-2a5d-4f57-9a53-3f1f8e0c9d21")

// ChunkStore keeps archived chunks in a Qdrant collection with a dense vector for semantic search
// and a hashed sparse vector for keyword search.
type ChunkStore struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

var _ ports.ChunkStore = (*ChunkStore)(nil)

func New(baseURL, collection string, executor *resilience.Executor) *ChunkStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &ChunkStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload chunkPayload   `json:"payload"`
}

type chunkPayload struct {
	ChunkID      string   `json:"chunk_id"`
	ClientID     string   `json:"client_id"`
	RoomID       string   `json:"room_id"`
	RoomName     string   `json:"room_name"`
	RoomType     string   `json:"room_type"`
	Text         string   `json:"text"`
	FirstTS      int64    `json:"first_ts"`
	LastTS       int64    `json:"last_ts"`
	Participants []string `json:"participants"`
	TokenCount   int      `json:"token_count"`
	ContentHash  string   `json:"content_hash,omitempty"`

	// Lower-cased copies for keyword filters.
	RoomTypeNorm     string   `json:"room_type_norm"`
	ParticipantsNorm []string `json:"participants_norm"`
}

// IndexChunks upserts chunks with their embeddings. Re-indexing a chunk id replaces the point.
func (s *ChunkStore) IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d != %d", len(chunks), len(vectors))
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, point{
			ID: uuid.NewSHA1(pointNamespace, []byte(c.ClientID+"/"+c.ID)).String(),
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(c.Text, c.RoomName),
			},
			Payload: toPayload(c),
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.collection)
	return s.execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		return s.do(ctx, http.MethodPut, url, map[string]any{"points": points}, nil)
	})
}

func (s *ChunkStore) SearchVector(ctx context.Context, clientID string, filter domain.Filter, embedding []float32, limit int) ([]domain.Candidate, error) {
	if len(embedding) == 0 {
		return []domain.Candidate{}, nil
	}
	return s.query(ctx, "qdrant.search_vector", clientID, filter, embedding, denseVectorName, limit, domain.ProvenanceVector)
}

// SearchText ranks chunks by the dot product of hashed term weights. Scores are raw sparse
// similarities; callers rely on the order.
func (s *ChunkStore) SearchText(ctx context.Context, clientID string, filter domain.Filter, queryText string, limit int) ([]domain.Candidate, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return []domain.Candidate{}, nil
	}
	return s.query(ctx, "qdrant.search_text", clientID, filter, sparse, sparseVectorName, limit, domain.ProvenanceText)
}

func (s *ChunkStore) query(
	ctx context.Context,
	operation string,
	clientID string,
	filter domain.Filter,
	vector any,
	using string,
	limit int,
	provenance domain.Provenance,
) ([]domain.Candidate, error) {
	body := map[string]any{
		"query":        vector,
		"using":        using,
		"limit":        normalizeLimit(limit),
		"filter":       buildFilter(clientID, filter),
		"with_payload": true,
	}

	var resp struct {
		Result struct {
			Points []struct {
				Score   float64      `json:"score"`
				Payload chunkPayload `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/query", s.baseURL, s.collection)
	err := s.execute(ctx, operation, func(ctx context.Context) error {
		return s.do(ctx, http.MethodPost, url, body, &resp)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		c := domain.Candidate{
			Chunk:       fromPayload(p.Payload),
			Score:       p.Score,
			Provenance:  provenance,
			ContentHash: p.Payload.ContentHash,
		}
		// Room ids match exactly at the store; the domain filter also folds case.
		if !filter.Matches(c.Chunk) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ChunkStore) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureMu.Lock()
	if s.ensuredCollection && s.ensuredVectorSize == vectorSize {
		s.ensureMu.Unlock()
		return nil
	}
	s.ensureMu.Unlock()

	body := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{"size": vectorSize, "distance": "Cosine"},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}
	url := fmt.Sprintf("%s/collections/%s", s.baseURL, s.collection)
	err := s.do(ctx, http.MethodPut, url, body, nil)
	// 409 means the collection already exists.
	var statusErr *statusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.code == http.StatusConflict) {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	s.ensuredCollection = true
	s.ensuredVectorSize = vectorSize
	return nil
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("qdrant status %d", e.code)
	}
	return fmt.Sprintf("qdrant status %d: %s", e.code, e.msg)
}

func (s *ChunkStore) do(ctx context.Context, method, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, msg: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *ChunkStore) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, operation, fn, classifyQdrantError)
	} else {
		err = fn(ctx)
	}
	if err != nil {
		return domain.WrapError(domain.ErrUpstreamUnavailable, operation, err)
	}
	return nil
}

// buildFilter narrows by every filter dimension at the store. Date bounds use chunk overlap.
func buildFilter(clientID string, filter domain.Filter) map[string]any {
	must := []map[string]any{
		{"key": "client_id", "match": map[string]any{"value": clientID}},
	}
	if len(filter.RoomIDs) > 0 {
		must = append(must, map[string]any{"key": "room_id", "match": map[string]any{"any": filter.RoomIDs}})
	}
	if types := normalizeKeywords(filter.RoomTypes); len(types) > 0 {
		must = append(must, map[string]any{"key": "room_type_norm", "match": map[string]any{"any": types}})
	}
	if people := normalizeKeywords(filter.Participants); len(people) > 0 {
		must = append(must, map[string]any{"key": "participants_norm", "match": map[string]any{"any": people}})
	}
	if !filter.DateFrom.IsZero() {
		must = append(must, map[string]any{"key": "last_ts", "range": map[string]any{"gte": filter.DateFrom.Unix()}})
	}
	if !filter.DateTo.IsZero() {
		must = append(must, map[string]any{"key": "first_ts", "range": map[string]any{"lte": filter.DateTo.Unix()}})
	}
	return map[string]any{"must": must}
}

func toPayload(c domain.Chunk) chunkPayload {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	return chunkPayload{
		ChunkID:      c.ID,
		ClientID:     c.ClientID,
		RoomID:       c.RoomID,
		RoomName:     c.RoomName,
		RoomType:     c.RoomType,
		Text:         c.Text,
		FirstTS:      c.FirstTS.Unix(),
		LastTS:       c.LastTS.Unix(),
		Participants: participants,
		TokenCount:   c.TokenCount,

		RoomTypeNorm:     strings.ToLower(strings.TrimSpace(c.RoomType)),
		ParticipantsNorm: normalizeKeywords(participants),
	}
}

// normalizeKeywords trims and lower-cases values, dropping blanks. It never returns nil.
func normalizeKeywords(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func fromPayload(p chunkPayload) domain.Chunk {
	participants := p.Participants
	if participants == nil {
		participants = []string{}
	}
	return domain.Chunk{
		ID:           p.ChunkID,
		ClientID:     p.ClientID,
		RoomID:       p.RoomID,
		RoomName:     p.RoomName,
		RoomType:     p.RoomType,
		Text:         p.Text,
		FirstTS:      time.Unix(p.FirstTS, 0).UTC(),
		LastTS:       time.Unix(p.LastTS, 0).UTC(),
		Participants: participants,
		TokenCount:   p.TokenCount,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 30
	}
	if limit > 200 {
		return 200
	}
	return limit
}
