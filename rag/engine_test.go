package rag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/paper-rag/llm"
	"github.com/mthorsen/paper-rag/rag"
)

type stubModel struct {
	completion llm.Completion
	err        error
	calls      int
}

func (s *stubModel) Complete(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (llm.Completion, error) {
	s.calls++
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	if len(messages) == 0 {
		return llm.Completion{}, errors.New("no messages provided")
	}
	return s.completion, nil
}

var _ llm.Client = (*stubModel)(nil)

func newTestEngine(index *stubIndex, model *stubModel) *rag.Engine {
	retriever := rag.NewVectorRetriever(&stubEmbedder{vector: []float32{0.1, 0.2}}, index, nil)
	formatter := rag.NewAcademicFormatter(0, 0, nil)
	return rag.NewEngine(retriever, formatter, model, llm.DefaultGenerationParams(), 5, nil)
}

func TestAnswerQuestionSuccess(t *testing.T) {
	index := &stubIndex{hits: []rag.Hit{
		{DocID: 1, SourceFile: "2101-first-paper_embedded.json", Year: 2021, Category: "cs.LG", Distance: 0.2},
	}}
	model := &stubModel{completion: llm.Completion{
		Content: "Paper [1] shows the result.",
		Usage:   &llm.Usage{PromptTokens: 100, CompletionTokens: 40},
	}}

	response := newTestEngine(index, model).AnswerQuestion(context.Background(), "What does the paper show?")

	require.Empty(t, response.Error)
	assert.Equal(t, "Paper [1] shows the result.", response.Answer)
	require.Len(t, response.Sources, 1)
	assert.Equal(t, 1, response.SearchMetrics.NumResults)
	require.NotNil(t, response.ModelMetrics.PromptTokens)
	assert.Equal(t, 100, *response.ModelMetrics.PromptTokens)
	assert.Equal(t, 1, model.calls)
}

func TestAnswerQuestionEmptyResultShortCircuits(t *testing.T) {
	model := &stubModel{completion: llm.Completion{Content: "irrelevant"}}

	response := newTestEngine(&stubIndex{}, model).AnswerQuestion(context.Background(), "obscure question")

	assert.Empty(t, response.Error)
	assert.NotEmpty(t, response.Answer)
	assert.Empty(t, response.Sources)
	assert.Zero(t, response.ModelMetrics.TotalTime)
	assert.Zero(t, response.ModelMetrics.InferenceTime)
	assert.Equal(t, 0, model.calls, "model must not be called for empty retrieval")
}

func TestAnswerQuestionRetrievalFailureIsAbsorbed(t *testing.T) {
	index := &stubIndex{err: errors.New("index unreachable")}
	model := &stubModel{completion: llm.Completion{Content: "irrelevant"}}

	response := newTestEngine(index, model).AnswerQuestion(context.Background(), "question")

	assert.NotEmpty(t, response.Error)
	assert.Contains(t, response.Error, "retrieval failed")
	assert.NotEmpty(t, response.Answer)
	assert.Empty(t, response.Sources)
	assert.Equal(t, 0, model.calls)
}

func TestAnswerQuestionModelFailureIsAbsorbed(t *testing.T) {
	index := &stubIndex{hits: []rag.Hit{
		{DocID: 1, SourceFile: "a_embedded.json", Distance: 0.2},
	}}
	model := &stubModel{err: errors.New("503 from model endpoint")}

	response := newTestEngine(index, model).AnswerQuestion(context.Background(), "question")

	assert.NotEmpty(t, response.Error)
	assert.Contains(t, response.Error, "invalid model response")
	assert.NotEmpty(t, response.Answer)
	// Partial metrics from before the failure survive.
	assert.Equal(t, 1, response.SearchMetrics.NumResults)
}

func TestAnswerQuestionEmptyCompletionIsModelError(t *testing.T) {
	index := &stubIndex{hits: []rag.Hit{
		{DocID: 1, SourceFile: "a_embedded.json", Distance: 0.2},
	}}
	model := &stubModel{completion: llm.Completion{Content: "   "}}

	response := newTestEngine(index, model).AnswerQuestion(context.Background(), "question")

	assert.Contains(t, response.Error, "invalid model response")
}

// failOnSecondRetriever fails retrieval for exactly one question.
type failOnQuestionRetriever struct {
	inner       rag.Retriever
	failingWhen string
}

func (r *failOnQuestionRetriever) Retrieve(ctx context.Context, query string, topK int) ([]rag.Source, rag.RetrievalTiming, error) {
	if query == r.failingWhen {
		return nil, rag.RetrievalTiming{}, rag.ErrRetrieval
	}
	return r.inner.Retrieve(ctx, query, topK)
}

func TestBatchProcessIsolatesFailures(t *testing.T) {
	index := &stubIndex{hits: []rag.Hit{
		{DocID: 1, SourceFile: "a_embedded.json", Distance: 0.2},
	}}
	retriever := &failOnQuestionRetriever{
		inner:       rag.NewVectorRetriever(&stubEmbedder{vector: []float32{0.1}}, index, nil),
		failingWhen: "second question",
	}
	model := &stubModel{completion: llm.Completion{Content: "answer"}}
	engine := rag.NewEngine(retriever, rag.NewAcademicFormatter(0, 0, nil), model, llm.DefaultGenerationParams(), 5, nil)

	responses := engine.BatchProcess(context.Background(), []string{
		"first question",
		"second question",
		"third question",
	})

	require.Len(t, responses, 3)
	assert.Empty(t, responses[0].Error)
	assert.NotEmpty(t, responses[1].Error)
	assert.Empty(t, responses[2].Error)
	assert.Equal(t, "answer", responses[0].Answer)
	assert.Equal(t, "answer", responses[2].Answer)
}
