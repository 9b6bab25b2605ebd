package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
)

type QueryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueryRepository(db *sql.DB) *QueryRepository {
	return &QueryRepository{db: db, now: time.Now}
}

func (r *QueryRepository) RecordQuery(ctx context.Context, record domain.QueryRecord) (string, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	filtersJSON, err := json.Marshal(record.Filter)
	if err != nil {
		return "", fmt.Errorf("marshal filters: %w", err)
	}
	citations := record.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return "", fmt.Errorf("marshal citations: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO archive_queries (
	id, client_id, correlation_id, question, intent, subject, filters, answer, citations, status, latency_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		id, record.ClientID, record.CorrelationID, record.Question, string(record.Intent), record.Subject,
		filtersJSON, record.Answer, citationsJSON, string(record.Status), record.Latency.Milliseconds(), createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert archive query: %w", err)
	}
	return id, nil
}

func (r *QueryRepository) RecordEvaluation(ctx context.Context, queryID string, rubric domain.Rubric, result domain.EvaluationResult) error {
	rubricJSON, err := json.Marshal(rubric)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO archive_evaluations (query_id, client_id, subject, rubric_name, rubric, result, weighted_total, created_at)
SELECT q.id, q.client_id, $2, $3, $4, $5, $6, $7
FROM archive_queries q
WHERE q.id = $1
`, queryID, result.Subject, rubric.Name, rubricJSON, resultJSON, result.WeightedTotal, r.now().UTC())
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert evaluation rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "record evaluation", fmt.Errorf("query %s", queryID))
	}
	return nil
}

func (r *QueryRepository) GetEvaluation(ctx context.Context, queryID string) (*domain.StoredEvaluation, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT query_id, client_id, subject, rubric_name, result, created_at
FROM archive_evaluations
WHERE query_id = $1
`, queryID)

	var stored domain.StoredEvaluation
	var resultRaw []byte
	err := row.Scan(&stored.QueryID, &stored.ClientID, &stored.Subject, &stored.RubricName, &resultRaw, &stored.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get evaluation", fmt.Errorf("query %s", queryID))
		}
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if err := json.Unmarshal(resultRaw, &stored.Result); err != nil {
		return nil, fmt.Errorf("unmarshal evaluation: %w", err)
	}
	return &stored, nil
}
