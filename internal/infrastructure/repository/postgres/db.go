package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockKey = int64(2026093001)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the archive tables. embeddingDim sizes the chunk vector column.
func EnsureSchema(ctx context.Context, db *sql.DB, embeddingDim int) error {
	if embeddingDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'channel'
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	room_id TEXT NOT NULL REFERENCES rooms(id),
	text TEXT NOT NULL,
	first_ts TIMESTAMPTZ NOT NULL,
	last_ts TIMESTAMPTZ NOT NULL,
	participants JSONB NOT NULL DEFAULT '[]'::jsonb,
	token_count INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT,
	embedding vector(%d),
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED
);

CREATE INDEX IF NOT EXISTS idx_chunks_client_last_ts ON chunks(client_id, last_ts DESC);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS archive_queries (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	question TEXT NOT NULL,
	intent TEXT NOT NULL,
	subject TEXT,
	filters JSONB NOT NULL DEFAULT '{}'::jsonb,
	answer TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	latency_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_queries_client_created ON archive_queries(client_id, created_at DESC);

CREATE TABLE IF NOT EXISTS archive_evaluations (
	query_id TEXT PRIMARY KEY REFERENCES archive_queries(id) ON DELETE CASCADE,
	client_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	rubric_name TEXT NOT NULL,
	rubric JSONB NOT NULL,
	result JSONB NOT NULL,
	weighted_total DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rubrics (
	client_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`, embeddingDim)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
