package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsurePaperSchema creates the papers table and its vector index. The
// ingestion pipeline that fills it lives outside this repository; the
// schema is kept here so a fresh database can serve queries immediately.
func EnsurePaperSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS papers (
			id BIGSERIAL PRIMARY KEY,
			doc_id BIGINT NOT NULL,
			url TEXT,
			source_file TEXT NOT NULL,
			year INT,
			category TEXT,
			abstract TEXT,
			full_text TEXT,
			summary TEXT,
			key_points TEXT,
			technical_terms TEXT,
			relationships TEXT,
			processed_at BIGINT,
			embedding VECTOR(%d) NOT NULL
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_papers_source_file ON papers(source_file)",
		"CREATE INDEX IF NOT EXISTS idx_papers_embedding ON papers USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
