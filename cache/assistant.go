package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/rag"
)

// Engine is the wrapped question-answering pipeline. The cache layer is
// purely an optimization: it introduces no error kinds of its own and
// passes engine responses through unchanged.
type Engine interface {
	AnswerQuestion(ctx context.Context, question string) rag.Response
}

// PaperCard is the cached digest of one retrieved paper.
type PaperCard struct {
	Title          string
	Abstract       string
	Year           int
	Category       string
	URL            string
	TechnicalTerms string
	KeyPoints      string
}

type GraphNode struct {
	ID    string
	Kind  string // "paper" or "term"
	Title string
	Year  int
}

type GraphEdge struct {
	From string
	To   string
	Kind string
}

// KnowledgeGraph links papers to the technical terms they contain. It is
// a derived artifact kept for future context reuse and graph export; the
// answer itself never consumes it.
type KnowledgeGraph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

type PaperDigest struct {
	DocID     int64
	Title     string
	Category  string
	KeyPoints string
}

// ResearchContext is the per-document-set artifact stored in the context
// cache, so a differently phrased question retrieving the same papers can
// reuse the derived structures.
type ResearchContext struct {
	Papers       map[int64]PaperCard
	Graph        KnowledgeGraph
	Temporal     map[int][]PaperDigest
	DocCount     int
	CachedAt     time.Time
	LastAccessed time.Time
}

type cachedResponse struct {
	Response rag.Response
	DocIDs   []int64
	CachedAt time.Time
}

// Stats is a snapshot of cache performance counters.
type Stats struct {
	Hits              uint64
	Misses            uint64
	TotalQueries      uint64
	HitRate           float64
	ResponseCacheSize int
	ContextCacheSize  int
}

// Assistant wraps an Engine with a response cache keyed by normalized
// question text and a context cache keyed by the retrieved document set.
type Assistant struct {
	engine    Engine
	responses *LRU[cachedResponse]
	contexts  *LRU[ResearchContext]
	logger    *zap.Logger

	hits    atomic.Uint64
	misses  atomic.Uint64
	queries atomic.Uint64
}

func NewAssistant(engine Engine, capacity int, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{
		engine:    engine,
		responses: NewLRU[cachedResponse](capacity),
		contexts:  NewLRU[ResearchContext](capacity),
		logger:    logger,
	}
}

// AnswerQuestion probes the response cache first. A hit returns the
// cached response unchanged, with no staleness check. A miss delegates
// to the engine, then stores the response and the derived research
// context under their respective keys. The two stores are independent
// critical sections, not a transaction; the context entry is a pure
// optimization, never required for correctness.
func (a *Assistant) AnswerQuestion(ctx context.Context, question string) rag.Response {
	a.queries.Add(1)
	key := ResponseKey(question)

	if entry, ok := a.responses.Get(key); ok {
		a.hits.Add(1)
		a.logger.Debug("response cache hit", zap.String("key", key))
		return entry.Response
	}
	a.misses.Add(1)

	response := a.engine.AnswerQuestion(ctx, question)

	ids := docIDs(response.Sources)
	a.responses.Put(key, cachedResponse{
		Response: response,
		DocIDs:   ids,
		CachedAt: time.Now(),
	})
	a.contexts.Put(ContextKey(ids), BuildResearchContext(response.Sources))

	return response
}

// BatchProcess answers questions sequentially through the cached path,
// so repeats inside one batch hit the cache.
func (a *Assistant) BatchProcess(ctx context.Context, questions []string) []rag.Response {
	responses := make([]rag.Response, 0, len(questions))
	for _, question := range questions {
		responses = append(responses, a.AnswerQuestion(ctx, question))
	}
	return responses
}

// ResearchContextFor returns the cached artifact for a document set and
// refreshes its last-accessed timestamp.
func (a *Assistant) ResearchContextFor(ids []int64) (ResearchContext, bool) {
	key := ContextKey(ids)
	entry, ok := a.contexts.Get(key)
	if !ok {
		return ResearchContext{}, false
	}
	entry.LastAccessed = time.Now()
	a.contexts.Put(key, entry)
	return entry, true
}

func (a *Assistant) Stats() Stats {
	hits := a.hits.Load()
	misses := a.misses.Load()
	total := a.queries.Load()

	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:              hits,
		Misses:            misses,
		TotalQueries:      total,
		HitRate:           rate,
		ResponseCacheSize: a.responses.Len(),
		ContextCacheSize:  a.contexts.Len(),
	}
}

// ResponseKey normalizes a question into its cache key: case-folded with
// whitespace collapsed, so near-identical phrasing hits the same entry.
func ResponseKey(question string) string {
	return "q:" + strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// ContextKey derives a deterministic key from a document-id set.
func ContextKey(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "ctx:" + strings.Join(parts, "_")
}

// BuildResearchContext derives the cached artifact from a retrieval's
// sources: paper cards, the knowledge graph, and the temporal index.
func BuildResearchContext(sources []rag.Source) ResearchContext {
	now := time.Now()
	context := ResearchContext{
		Papers:       make(map[int64]PaperCard, len(sources)),
		Graph:        BuildKnowledgeGraph(sources),
		Temporal:     buildTemporalIndex(sources),
		DocCount:     len(sources),
		CachedAt:     now,
		LastAccessed: now,
	}

	for _, source := range sources {
		context.Papers[source.DocID] = PaperCard{
			Title:          source.Title(),
			Abstract:       source.Abstract,
			Year:           source.Year,
			Category:       source.Category,
			URL:            source.URL,
			TechnicalTerms: source.TechnicalTerms,
			KeyPoints:      source.KeyPoints,
		}
	}

	return context
}

// BuildKnowledgeGraph adds one node per paper and one node per distinct
// technical term, with a contains edge from each paper to each of its
// terms.
func BuildKnowledgeGraph(sources []rag.Source) KnowledgeGraph {
	graph := KnowledgeGraph{}
	termNodes := make(map[string]struct{})

	for _, source := range sources {
		paperID := "paper:" + strconv.FormatInt(source.DocID, 10)
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:    paperID,
			Kind:  "paper",
			Title: source.Title(),
			Year:  source.Year,
		})

		for _, term := range SplitTerms(source.TechnicalTerms) {
			if _, ok := termNodes[term]; !ok {
				termNodes[term] = struct{}{}
				graph.Nodes = append(graph.Nodes, GraphNode{ID: term, Kind: "term"})
			}
			graph.Edges = append(graph.Edges, GraphEdge{
				From: paperID,
				To:   term,
				Kind: "contains",
			})
		}
	}

	return graph
}

func buildTemporalIndex(sources []rag.Source) map[int][]PaperDigest {
	temporal := make(map[int][]PaperDigest)
	for _, source := range sources {
		temporal[source.Year] = append(temporal[source.Year], PaperDigest{
			DocID:     source.DocID,
			Title:     source.Title(),
			Category:  source.Category,
			KeyPoints: source.KeyPoints,
		})
	}
	return temporal
}

// SplitTerms breaks a free-text technical-terms field into distinct
// terms, preserving first-seen order.
func SplitTerms(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		term := strings.TrimSpace(field)
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func docIDs(sources []rag.Source) []int64 {
	ids := make([]int64, len(sources))
	for i, source := range sources {
		ids[i] = source.DocID
	}
	return ids
}
