// Package persistence implements the Postgres-backed stores.
package persistence

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// pgxConn is the subset of *pgxpool.Pool the adapters use.
type pgxConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const knowledgeSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS knowledge_base (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	content             TEXT NOT NULL,
	category            TEXT NOT NULL,
	tags                TEXT[] NOT NULL DEFAULT '{}',
	solution_steps      TEXT[] NOT NULL DEFAULT '{}',
	success_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_resolution_time INTEGER NOT NULL DEFAULT 0,
	embedding           vector,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const knowledgeSearchQuery = `
	SELECT id, title, content, category, tags, solution_steps, success_rate, avg_resolution_time,
		   1 - (embedding <=> $1) AS similarity
	FROM knowledge_base
	WHERE embedding IS NOT NULL
	  AND 1 - (embedding <=> $1) > $2
	ORDER BY embedding <=> $1
	LIMIT $3`

const knowledgeUpsertQuery = `
	INSERT INTO knowledge_base (id, title, content, category, tags, solution_steps, success_rate, avg_resolution_time, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		category = EXCLUDED.category,
		tags = EXCLUDED.tags,
		solution_steps = EXCLUDED.solution_steps,
		success_rate = EXCLUDED.success_rate,
		avg_resolution_time = EXCLUDED.avg_resolution_time,
		embedding = EXCLUDED.embedding,
		updated_at = NOW()`

// KnowledgeAdapter is the pgvector knowledge store.
type KnowledgeAdapter struct {
	db pgxConn
}

func NewKnowledgeAdapter(db pgxConn) *KnowledgeAdapter {
	return &KnowledgeAdapter{db: db}
}

func (a *KnowledgeAdapter) Name() string {
	return "knowledge_store"
}

// Connect pings the pool and creates the table when missing.
func (a *KnowledgeAdapter) Connect(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping knowledge store: %w", err)
	}
	if _, err := a.db.Exec(ctx, knowledgeSchema); err != nil {
		return fmt.Errorf("failed to ensure knowledge schema: %w", err)
	}
	return nil
}

// VectorSearch returns entries by descending cosine similarity.
func (a *KnowledgeAdapter) VectorSearch(ctx context.Context, embedding []float32, threshold float64, limit int) ([]domain.KnowledgeCandidate, error) {
	rows, err := a.db.Query(ctx, knowledgeSearchQuery, pgVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}
	defer rows.Close()

	results := []domain.KnowledgeCandidate{}
	for rows.Next() {
		var c domain.KnowledgeCandidate
		var category string
		if err := rows.Scan(
			&c.ID, &c.Title, &c.Content, &category,
			pq.Array(&c.Tags), pq.Array(&c.SolutionSteps),
			&c.SuccessRate, &c.AvgResolutionTime, &c.SimilarityScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge row: %w", err)
		}
		c.Category = domain.Category(category)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read knowledge rows: %w", err)
	}
	return results, nil
}

func (a *KnowledgeAdapter) Upsert(ctx context.Context, entry *domain.KnowledgeEntry, embedding []float32) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: knowledge entry id is required", ErrInvalidInput)
	}
	_, err := a.db.Exec(ctx, knowledgeUpsertQuery,
		entry.ID, entry.Title, entry.Content, string(entry.Category),
		pq.Array(nonNil(entry.Tags)), pq.Array(nonNil(entry.SolutionSteps)),
		entry.SuccessRate, entry.AvgResolutionTime, pgVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry %s: %w", entry.ID, err)
	}
	return nil
}

// pgVector renders a float32 slice in pgvector text format.
func pgVector(v []float32) string {
	if len(v) == 0 {
		return "[0]"
	}

	buf := make([]byte, 0, len(v)*12+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	_ out.KnowledgeStore = (*KnowledgeAdapter)(nil)
	_ out.Connector      = (*KnowledgeAdapter)(nil)
)
