package rag

import (
	"strings"
	"time"

	"github.com/mthorsen/paper-rag/llm"
)

const embeddedFileSuffix = "_embedded.json"

// Source is a retrieved paper chunk from the papers index. Values are
// snapshots taken at construction; a Source is never mutated afterwards
// and is safe to share across goroutines.
type Source struct {
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

	// Score is the raw L2 distance reported by the index. Lower is better.
	Score float64
}

// Title derives the paper title from the source file name: the embedding
// suffix is stripped, a leading 4-digit year prefix (plus its separator)
// is removed, and dashes become spaces.
func (s Source) Title() string {
	clean := strings.TrimSuffix(s.SourceFile, embeddedFileSuffix)
	if len(clean) > 4 && isDigits(clean[:4]) {
		return strings.TrimSpace(strings.ReplaceAll(clean[5:], "-", " "))
	}
	return strings.TrimSpace(strings.ReplaceAll(clean, "-", " "))
}

// FormattedDate renders the processing timestamp as a human-readable time.
func (s Source) FormattedDate() string {
	return time.Unix(s.Timestamp, 0).Format("2006-01-02 15:04:05")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// SearchMetrics is an immutable snapshot of retrieval-stage timings.
type SearchMetrics struct {
	StartTime     time.Time
	EmbeddingTime time.Duration
	SearchTime    time.Duration
	TotalTime     time.Duration
	NumResults    int
	AvgScore      float64
}

func NewSearchMetrics(start time.Time, embeddingTime, searchTime time.Duration, sources []Source) SearchMetrics {
	avg := 0.0
	if len(sources) > 0 {
		sum := 0.0
		for _, s := range sources {
			sum += s.Score
		}
		avg = sum / float64(len(sources))
	}

	return SearchMetrics{
		StartTime:     start,
		EmbeddingTime: embeddingTime,
		SearchTime:    searchTime,
		TotalTime:     time.Since(start),
		NumResults:    len(sources),
		AvgScore:      avg,
	}
}

// ModelMetrics is an immutable snapshot of generation-stage timings.
// Token counts are nil when the model endpoint does not report usage.
type ModelMetrics struct {
	StartTime        time.Time
	ContextTime      time.Duration
	InferenceTime    time.Duration
	TotalTime        time.Duration
	PromptTokens     *int
	CompletionTokens *int
}

func NewModelMetrics(start time.Time, contextTime, inferenceTime time.Duration, usage *llm.Usage) ModelMetrics {
	metrics := ModelMetrics{
		StartTime:     start,
		ContextTime:   contextTime,
		InferenceTime: inferenceTime,
		TotalTime:     time.Since(start),
	}
	if usage != nil {
		prompt, completion := usage.PromptTokens, usage.CompletionTokens
		metrics.PromptTokens = &prompt
		metrics.CompletionTokens = &completion
	}
	return metrics
}

// Response is the aggregate result of one pipeline run. It is constructed
// exactly once at the end of AnswerQuestion and never mutated, so callers
// and caches may share it freely.
type Response struct {
	Question      string
	Answer        string
	Sources       []Source
	SearchMetrics SearchMetrics
	ModelMetrics  ModelMetrics

	// Error is non-empty for a degraded response. Answer still carries a
	// human-readable fallback message in that case.
	Error string
}

// TotalTime is the combined wall-clock time of both pipeline stages.
func (r Response) TotalTime() time.Duration {
	return r.SearchMetrics.TotalTime + r.ModelMetrics.TotalTime
}

func (r Response) Failed() bool {
	return r.Error != ""
}
