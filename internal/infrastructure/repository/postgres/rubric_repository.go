package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
)

// RubricRepository reads per-client rubrics and defers to fallback when a client has none.
type RubricRepository struct {
	db       *sql.DB
	fallback ports.RubricStore
}

func NewRubricRepository(db *sql.DB, fallback ports.RubricStore) *RubricRepository {
	return &RubricRepository{db: db, fallback: fallback}
}

func (r *RubricRepository) GetRubric(ctx context.Context, clientID string) (domain.Rubric, error) {
	row := r.db.QueryRowContext(ctx, `SELECT definition FROM rubrics WHERE client_id = $1`, clientID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if r.fallback == nil {
				return domain.Rubric{}, domain.WrapError(domain.ErrNotFound, "get rubric", fmt.Errorf("client %s", clientID))
			}
			return r.fallback.GetRubric(ctx, clientID)
		}
		return domain.Rubric{}, fmt.Errorf("scan rubric: %w", err)
	}

	var rubric domain.Rubric
	if err := json.Unmarshal(raw, &rubric); err != nil {
		return domain.Rubric{}, fmt.Errorf("unmarshal rubric: %w", err)
	}
	return rubric.WithDefaults(), nil
}

func (r *RubricRepository) UpsertRubric(ctx context.Context, clientID string, rubric domain.Rubric) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert rubric", fmt.Errorf("client_id is required"))
	}
	rubric = rubric.WithDefaults()
	if len(rubric.Drivers) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "upsert rubric", fmt.Errorf("rubric has no drivers"))
	}
	definition, err := json.Marshal(rubric)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO rubrics (client_id, name, definition, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_id) DO UPDATE SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at
`, clientID, rubric.Name, definition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert rubric: %w", err)
	}
	return nil
}
