package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

const chunkColumns = `c.id, c.client_id, c.room_id, r.name, r.type, c.text, c.first_ts, c.last_ts,
	c.participants, c.token_count, COALESCE(c.content_hash, '')`

// ChunkStore searches archived chunks with pgvector cosine distance and Postgres full-text search.
type ChunkStore struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewChunkStore(db *sql.DB, executor *resilience.Executor) *ChunkStore {
	return &ChunkStore{db: db, executor: executor}
}

func (s *ChunkStore) SearchVector(ctx context.Context, clientID string, filter domain.Filter, embedding []float32, limit int) ([]domain.Candidate, error) {
	if len(embedding) == 0 {
		return []domain.Candidate{}, nil
	}
	args := []any{clientID, pgvector.NewVector(embedding)}
	where, args, err := appendFilterClause(filter, args)
	if err != nil {
		return nil, err
	}
	args = append(args, normalizeLimit(limit))

	query := fmt.Sprintf(`
SELECT %s, 1 - (c.embedding <=> $2) AS score
FROM chunks c
JOIN rooms r ON r.id = c.room_id
WHERE c.client_id = $1 AND c.embedding IS NOT NULL%s
ORDER BY c.embedding <=> $2
LIMIT $%d
`, chunkColumns, where, len(args))

	return s.search(ctx, "postgres.search_vector", query, args, domain.ProvenanceVector)
}

func (s *ChunkStore) SearchText(ctx context.Context, clientID string, filter domain.Filter, queryText string, limit int) ([]domain.Candidate, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return []domain.Candidate{}, nil
	}
	args := []any{clientID, queryText}
	where, args, err := appendFilterClause(filter, args)
	if err != nil {
		return nil, err
	}
	args = append(args, normalizeLimit(limit))

	query := fmt.Sprintf(`
SELECT %s, ts_rank(c.tsv, q) AS score
FROM chunks c
JOIN rooms r ON r.id = c.room_id,
	websearch_to_tsquery('english', $2) q
WHERE c.client_id = $1 AND c.tsv @@ q%s
ORDER BY score DESC, c.last_ts DESC
LIMIT $%d
`, chunkColumns, where, len(args))

	return s.search(ctx, "postgres.search_text", query, args, domain.ProvenanceText)
}

func (s *ChunkStore) search(ctx context.Context, operation, query string, args []any, provenance domain.Provenance) ([]domain.Candidate, error) {
	var out []domain.Candidate
	call := func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query chunks: %w", err)
		}
		defer rows.Close()

		candidates := make([]domain.Candidate, 0, 32)
		for rows.Next() {
			c, err := scanCandidate(rows)
			if err != nil {
				return err
			}
			c.Provenance = provenance
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate chunks: %w", err)
		}
		out = candidates
		return nil
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, operation, call, classifyPostgresError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, operation, err)
	}
	return out, nil
}

func scanCandidate(rows *sql.Rows) (domain.Candidate, error) {
	var c domain.Candidate
	var participantsRaw []byte
	err := rows.Scan(
		&c.ID, &c.ClientID, &c.RoomID, &c.RoomName, &c.RoomType, &c.Text, &c.FirstTS, &c.LastTS,
		&participantsRaw, &c.TokenCount, &c.ContentHash, &c.Score,
	)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("scan chunk: %w", err)
	}
	c.Participants = []string{}
	if len(participantsRaw) > 0 {
		if err := json.Unmarshal(participantsRaw, &c.Participants); err != nil {
			return domain.Candidate{}, fmt.Errorf("unmarshal participants for chunk %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// appendFilterClause renders filter as AND-ed predicates. List dimensions are passed as JSON
// arrays and expanded server side.
func appendFilterClause(filter domain.Filter, args []any) (string, []any, error) {
	var b strings.Builder
	addList := func(values []string, format string) error {
		if len(values) == 0 {
			return nil
		}
		lowered := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				lowered = append(lowered, v)
			}
		}
		raw, err := json.Marshal(lowered)
		if err != nil {
			return fmt.Errorf("marshal filter values: %w", err)
		}
		args = append(args, string(raw))
		fmt.Fprintf(&b, format, len(args))
		return nil
	}

	if err := addList(filter.RoomIDs, "\n\tAND lower(c.room_id) IN (SELECT jsonb_array_elements_text($%d::jsonb))"); err != nil {
		return "", nil, err
	}
	if err := addList(filter.RoomTypes, "\n\tAND lower(r.type) IN (SELECT jsonb_array_elements_text($%d::jsonb))"); err != nil {
		return "", nil, err
	}
	if !filter.DateFrom.IsZero() {
		args = append(args, filter.DateFrom.UTC())
		fmt.Fprintf(&b, "\n\tAND c.last_ts >= $%d", len(args))
	}
	if !filter.DateTo.IsZero() {
		args = append(args, filter.DateTo.UTC())
		fmt.Fprintf(&b, "\n\tAND c.first_ts <= $%d", len(args))
	}
	if err := addList(filter.Participants, "\n\tAND EXISTS (SELECT 1 FROM jsonb_array_elements_text(c.participants) p"+
		" WHERE lower(p) IN (SELECT jsonb_array_elements_text($%d::jsonb)))"); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
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

func classifyPostgresError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return resilience.Transient()
	}
	return resilience.Permanent()
}
