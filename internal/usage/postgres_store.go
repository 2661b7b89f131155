package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const Schema = `
CREATE TABLE IF NOT EXISTS generation_usage (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	request_id        TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	processing_ms     BIGINT NOT NULL DEFAULT 0,
	quality_score     INTEGER NOT NULL DEFAULT 0,
	streamed          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS generation_usage_created_at_idx ON generation_usage (created_at);
`

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create usage schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, r *Record) error {
	query := `
		INSERT INTO generation_usage (request_id, model, prompt_tokens, completion_tokens, total_tokens, processing_ms, quality_score, streamed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		r.RequestID, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		r.ProcessingMs, r.QualityScore, r.Streamed,
	).Scan(&r.ID, &r.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, request_id, model, prompt_tokens, completion_tokens, total_tokens, processing_ms, quality_score, streamed, created_at
		FROM generation_usage
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.Model, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.ProcessingMs, &r.QualityScore, &r.Streamed, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE streamed),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(AVG(processing_ms), 0)::float8,
			COALESCE(AVG(quality_score) FILTER (WHERE NOT streamed), 0)::float8
		FROM generation_usage
		WHERE created_at BETWEEN $1 AND $2
	`
	sum := &Summary{From: from, To: to}
	err := s.db.QueryRow(ctx, query, from, to).Scan(
		&sum.Requests, &sum.StreamedRequests, &sum.PromptTokens, &sum.CompletionTokens,
		&sum.TotalTokens, &sum.AvgProcessingMs, &sum.AvgQualityScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return sum, nil
}

var _ Store = (*PostgresStore)(nil)
