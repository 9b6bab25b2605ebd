package ports

import (
	"context"
	"io"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

// ChunkStore runs filtered searches over a client's archived chunks.
type ChunkStore interface {
	SearchVector(ctx context.Context, clientID string, filter domain.Filter, embedding []float32, limit int) ([]domain.Candidate, error)
	SearchText(ctx context.Context, clientID string, filter domain.Filter, queryText string, limit int) ([]domain.Candidate, error)
}

// ChunkIndexer loads pre-built chunks and their embeddings into a store that owns its own index.
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}

// Embedder builds the query vector. Failure means "proceed without a vector".
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Generator is the text-generation service.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Stream calls onDelta with each fragment in generation order and returns the full text.
	Stream(ctx context.Context, req GenerateRequest, onDelta func(string) error) (string, error)
}

// RubricStore returns the client's rubric, or the default rubric when none is configured.
type RubricStore interface {
	GetRubric(ctx context.Context, clientID string) (domain.Rubric, error)
}

// QueryRecorder persists completed queries and evaluations.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, record domain.QueryRecord) (string, error)
	RecordEvaluation(ctx context.Context, queryID string, rubric domain.Rubric, result domain.EvaluationResult) error
	GetEvaluation(ctx context.Context, queryID string) (*domain.StoredEvaluation, error)
}

// EventPublisher announces recorded queries to other services.
type EventPublisher interface {
	PublishQueryRecorded(ctx context.Context, event domain.QueryRecordedEvent) error
}

// ReportStore keeps rendered report files by key.
type ReportStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
}
