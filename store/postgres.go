package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mthorsen/paper-rag/rag"
)

// PaperIndex serves vector-similarity searches over the papers table.
type PaperIndex struct {
	pool *pgxpool.Pool
}

func NewPaperIndex(pool *pgxpool.Pool) *PaperIndex {
	return &PaperIndex{pool: pool}
}

// Search returns up to limit hits ordered by ascending L2 distance.
// Optional columns are defaulted in SQL so every Hit field is populated.
// The pooled connection is acquired and released symmetrically on every
// path.
func (s *PaperIndex) Search(ctx context.Context, vector []float32, limit int) ([]rag.Hit, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", ProbesFor(limit))); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT
            COALESCE(doc_id, -1),
            COALESCE(url, ''),
            COALESCE(source_file, ''),
            COALESCE(year, 0),
            COALESCE(category, ''),
            COALESCE(abstract, ''),
            COALESCE(full_text, ''),
            COALESCE(summary, ''),
            COALESCE(key_points, ''),
            COALESCE(technical_terms, ''),
            COALESCE(relationships, ''),
            COALESCE(processed_at, 0),
            (embedding <-> $1::vector) AS distance
        FROM papers
        ORDER BY embedding <-> $1::vector
        LIMIT $2
    `, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar papers: %w", err)
	}
	defer rows.Close()

	hits := make([]rag.Hit, 0, limit)
	for rows.Next() {
		var hit rag.Hit
		if scanErr := rows.Scan(
			&hit.DocID,
			&hit.URL,
			&hit.SourceFile,
			&hit.Year,
			&hit.Category,
			&hit.Abstract,
			&hit.FullText,
			&hit.Summary,
			&hit.KeyPoints,
			&hit.TechnicalTerms,
			&hit.Relationships,
			&hit.Timestamp,
			&hit.Distance,
		); scanErr != nil {
			return nil, fmt.Errorf("scan paper hit: %w", scanErr)
		}
		hits = append(hits, hit)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return hits, nil
}

// Verify checks the papers table exists and holds at least one row, so a
// misconfigured database fails loudly at startup instead of answering
// every query with empty results.
func (s *PaperIndex) Verify(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int64
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM papers").Scan(&count); err != nil {
		return fmt.Errorf("count papers: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("papers table is empty")
	}

	return nil
}

// ProbesFor widens the ivfflat probe count with the requested limit,
// with a floor so small limits still search enough lists.
func ProbesFor(limit int) int {
	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	return probes
}

var _ rag.SearchIndex = (*PaperIndex)(nil)
