package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/embeddings"
)

const defaultTopK = 5

// Hit is one raw row returned by the search index, ranked best-first
// (ascending distance). Optional columns arrive already defaulted by the
// index implementation, so mapping a Hit into a Source never fails.
type Hit struct {
	DocID          int64
	URL            string
	SourceFile     string
	Year           int
	Category       string
	Abstract       string
	FullText       string
	Summary        string
	KeyPoints      string
	TechnicalTerms string
	Relationships  string
	Timestamp      int64
	Distance       float64
}

// SearchIndex is the vector-search collaborator. Implementations return
// hits in ascending-distance order and an empty slice for zero matches.
type SearchIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
}

// RetrievalTiming carries the two sub-timers measured inside a Retrieve
// call, so the engine records embedding and search time separately.
type RetrievalTiming struct {
	Embedding time.Duration
	Search    time.Duration
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Source, RetrievalTiming, error)
}

// VectorRetriever answers queries with a plain embed-then-search pass over
// the index, deduplicated by source file.
type VectorRetriever struct {
	embedder embeddings.Embedder
	index    SearchIndex
	logger   *zap.Logger
}

func NewVectorRetriever(embedder embeddings.Embedder, index SearchIndex, logger *zap.Logger) *VectorRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorRetriever{embedder: embedder, index: index, logger: logger}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Source, RetrievalTiming, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	var timing RetrievalTiming

	embedStart := time.Now()
	vector, err := r.embedder.Embed(ctx, query, embeddings.RoleQuery)
	timing.Embedding = time.Since(embedStart)
	if err != nil {
		return nil, timing, fmt.Errorf("%w: %s", ErrEmbedding, err)
	}
	if len(vector) == 0 {
		return nil, timing, fmt.Errorf("%w: embedder returned no vector", ErrEmbedding)
	}

	searchStart := time.Now()
	hits, err := r.index.Search(ctx, vector, topK)
	timing.Search = time.Since(searchStart)
	if err != nil {
		return nil, timing, fmt.Errorf("%w: %s", ErrRetrieval, err)
	}

	// First occurrence of a source file wins; topK bounds the candidate
	// count, not the returned count.
	seen := make(map[string]struct{}, len(hits))
	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		if _, dup := seen[hit.SourceFile]; dup {
			continue
		}
		seen[hit.SourceFile] = struct{}{}
		sources = append(sources, sourceFromHit(hit))
	}

	r.logger.Debug("retrieved sources",
		zap.String("query", query),
		zap.Int("hits", len(hits)),
		zap.Int("sources", len(sources)),
	)

	return sources, timing, nil
}

func sourceFromHit(h Hit) Source {
	return Source{
		DocID:          h.DocID,
		URL:            h.URL,
		SourceFile:     h.SourceFile,
		Year:           h.Year,
		Category:       h.Category,
		Abstract:       h.Abstract,
		FullText:       h.FullText,
		Summary:        h.Summary,
		KeyPoints:      h.KeyPoints,
		TechnicalTerms: h.TechnicalTerms,
		Relationships:  h.Relationships,
		Timestamp:      h.Timestamp,
		Score:          h.Distance,
	}
}

var _ Retriever = (*VectorRetriever)(nil)

// SearchQuality summarizes the score distribution of a retrieval pass.
// Observability only; never changes result order.
type SearchQuality struct {
	AvgScore      float64
	MinScore      float64
	MaxScore      float64
	ScoreVariance float64
}

func EstimateQuality(sources []Source) SearchQuality {
	if len(sources) == 0 {
		return SearchQuality{}
	}

	sum := 0.0
	min := sources[0].Score
	max := sources[0].Score
	for _, s := range sources {
		sum += s.Score
		if s.Score < min {
			min = s.Score
		}
		if s.Score > max {
			max = s.Score
		}
	}
	avg := sum / float64(len(sources))

	variance := 0.0
	for _, s := range sources {
		diff := s.Score - avg
		variance += diff * diff
	}
	variance /= float64(len(sources))

	return SearchQuality{
		AvgScore:      avg,
		MinScore:      min,
		MaxScore:      max,
		ScoreVariance: variance,
	}
}

// Reranker reorders retrieved sources by a secondary relevance signal.
type Reranker interface {
	Rerank(ctx context.Context, query string, sources []Source) ([]Source, error)
}

// HybridRetriever layers an optional reranking pass over another
// retriever. A failed rerank keeps the vector order instead of failing
// the whole retrieval.
type HybridRetriever struct {
	vector   Retriever
	reranker Reranker
	logger   *zap.Logger
}

func NewHybridRetriever(vector Retriever, reranker Reranker, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{vector: vector, reranker: reranker, logger: logger}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Source, RetrievalTiming, error) {
	sources, timing, err := r.vector.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, timing, err
	}

	if r.reranker == nil || len(sources) == 0 {
		return sources, timing, nil
	}

	reranked, err := r.reranker.Rerank(ctx, query, sources)
	if err != nil {
		r.logger.Warn("rerank failed, keeping vector order", zap.Error(err))
		return sources, timing, nil
	}

	return reranked, timing, nil
}

var _ Retriever = (*HybridRetriever)(nil)

const (
	RetrieverVector = "vector"
	RetrieverHybrid = "hybrid"
)

// NewRetriever builds the requested retrieval strategy.
func NewRetriever(kind string, embedder embeddings.Embedder, index SearchIndex, reranker Reranker, logger *zap.Logger) (Retriever, error) {
	switch kind {
	case RetrieverVector, "":
		return NewVectorRetriever(embedder, index, logger), nil
	case RetrieverHybrid:
		return NewHybridRetriever(NewVectorRetriever(embedder, index, logger), reranker, logger), nil
	default:
		return nil, fmt.Errorf("unknown retriever type: %s", kind)
	}
}
