package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/llm"
)

const (
	noResultsAnswer = "No relevant academic papers found for your query."
	failureAnswer   = "An error occurred while processing your question."
)

// Engine runs the retrieve, format, generate pipeline for one question
// at a time. It is the outermost recovery boundary: AnswerQuestion always
// returns a well-formed Response and never panics or propagates an error.
type Engine struct {
	retriever Retriever
	formatter Formatter
	model     llm.Client
	params    llm.GenerationParams
	topK      int
	logger    *zap.Logger
}

func NewEngine(retriever Retriever, formatter Formatter, model llm.Client, params llm.GenerationParams, topK int, logger *zap.Logger) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	if params.MaxTokens <= 0 {
		params = llm.DefaultGenerationParams()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		retriever: retriever,
		formatter: formatter,
		model:     model,
		params:    params,
		topK:      topK,
		logger:    logger,
	}
}

// RetrieveSources runs the retrieval stage and snapshots its metrics.
// On failure the returned metrics still carry the sub-timers measured
// before the failure.
func (e *Engine) RetrieveSources(ctx context.Context, query string) ([]Source, SearchMetrics, error) {
	start := time.Now()

	sources, timing, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		return nil, SearchMetrics{
			StartTime:     start,
			EmbeddingTime: timing.Embedding,
			SearchTime:    timing.Search,
			TotalTime:     time.Since(start),
		}, err
	}

	quality := EstimateQuality(sources)
	e.logger.Debug("retrieval quality",
		zap.Int("sources", len(sources)),
		zap.Float64("avgScore", quality.AvgScore),
		zap.Float64("minScore", quality.MinScore),
		zap.Float64("maxScore", quality.MaxScore),
	)

	return sources, NewSearchMetrics(start, timing.Embedding, timing.Search, sources), nil
}

// GenerateResponse formats the sources into a bounded context, builds the
// prompt, and calls the model. ContextTime covers context assembly and
// prompt construction; InferenceTime covers the model call.
func (e *Engine) GenerateResponse(ctx context.Context, question string, sources []Source) (string, ModelMetrics, error) {
	start := time.Now()

	contextStart := time.Now()
	contextBlock := e.formatter.FormatContext(sources)
	prompt := e.formatter.GeneratePrompt(question, contextBlock)
	contextTime := time.Since(contextStart)

	inferenceStart := time.Now()
	completion, err := e.model.Complete(ctx, prompt, e.params)
	inferenceTime := time.Since(inferenceStart)

	partial := ModelMetrics{
		StartTime:     start,
		ContextTime:   contextTime,
		InferenceTime: inferenceTime,
		TotalTime:     time.Since(start),
	}
	if err != nil {
		return "", partial, fmt.Errorf("%w: %s", ErrModelResponse, err)
	}
	if strings.TrimSpace(completion.Content) == "" {
		return "", partial, fmt.Errorf("%w: empty completion content", ErrModelResponse)
	}

	return completion.Content, NewModelMetrics(start, contextTime, inferenceTime, completion.Usage), nil
}

// AnswerQuestion processes one question end to end. A retrieval that
// legitimately finds nothing short-circuits with a canned answer and
// zero-valued model metrics, without spending a model call. Any stage
// failure is absorbed into a degraded Response with Error set.
func (e *Engine) AnswerQuestion(ctx context.Context, question string) Response {
	sources, searchMetrics, err := e.RetrieveSources(ctx, question)
	if err != nil {
		e.logger.Error("retrieval stage failed", zap.String("question", question), zap.Error(err))
		return e.degradedResponse(question, searchMetrics, ModelMetrics{StartTime: time.Now()}, err)
	}

	if len(sources) == 0 {
		e.logger.Info("no sources found, skipping model call", zap.String("question", question))
		return Response{
			Question:      question,
			Answer:        noResultsAnswer,
			Sources:       []Source{},
			SearchMetrics: searchMetrics,
			ModelMetrics:  ModelMetrics{StartTime: time.Now()},
		}
	}

	answer, modelMetrics, err := e.GenerateResponse(ctx, question, sources)
	if err != nil {
		e.logger.Error("generation stage failed", zap.String("question", question), zap.Error(err))
		return e.degradedResponse(question, searchMetrics, modelMetrics, err)
	}

	return Response{
		Question:      question,
		Answer:        answer,
		Sources:       sources,
		SearchMetrics: searchMetrics,
		ModelMetrics:  modelMetrics,
	}
}

func (e *Engine) degradedResponse(question string, searchMetrics SearchMetrics, modelMetrics ModelMetrics, err error) Response {
	return Response{
		Question:      question,
		Answer:        failureAnswer,
		Sources:       []Source{},
		SearchMetrics: searchMetrics,
		ModelMetrics:  modelMetrics,
		Error:         err.Error(),
	}
}

// BatchProcess answers questions strictly in sequence to bound load on
// the embedding and model collaborators. One question failing does not
// abort the batch; its Response carries the error.
func (e *Engine) BatchProcess(ctx context.Context, questions []string) []Response {
	responses := make([]Response, 0, len(questions))
	for i, question := range questions {
		response := e.AnswerQuestion(ctx, question)
		if response.Failed() {
			e.logger.Warn("batch question failed",
				zap.Int("index", i+1),
				zap.Int("total", len(questions)),
				zap.String("error", response.Error),
			)
		}
		responses = append(responses, response)
	}
	return responses
}
