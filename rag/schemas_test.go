package rag_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/paper-rag/llm"
	"github.com/mthorsen/paper-rag/rag"
)

func TestSourceTitle(t *testing.T) {
	cases := []struct {
		name       string
		sourceFile string
		want       string
	}{
		{
			name:       "year prefix stripped",
			sourceFile: "2103-attention-is-all-you-need_embedded.json",
			want:       "attention is all you need",
		},
		{
			name:       "no year prefix",
			sourceFile: "graph-neural-networks_embedded.json",
			want:       "graph neural networks",
		},
		{
			name:       "no suffix",
			sourceFile: "diffusion-models-survey",
			want:       "diffusion models survey",
		},
		{
			name:       "short name",
			sourceFile: "gan",
			want:       "gan",
		},
		{
			name:       "empty",
			sourceFile: "",
			want:       "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := rag.Source{SourceFile: tc.sourceFile}
			assert.Equal(t, tc.want, source.Title())
		})
	}
}

func TestNewSearchMetricsAverageScore(t *testing.T) {
	sources := []rag.Source{
		{SourceFile: "a", Score: 0.2},
		{SourceFile: "b", Score: 0.4},
	}

	metrics := rag.NewSearchMetrics(time.Now(), time.Millisecond, 2*time.Millisecond, sources)

	assert.Equal(t, 2, metrics.NumResults)
	assert.InDelta(t, 0.3, metrics.AvgScore, 1e-9)
	assert.Equal(t, time.Millisecond, metrics.EmbeddingTime)
	assert.Equal(t, 2*time.Millisecond, metrics.SearchTime)
}

func TestNewSearchMetricsEmptySources(t *testing.T) {
	metrics := rag.NewSearchMetrics(time.Now(), 0, 0, nil)

	assert.Equal(t, 0, metrics.NumResults)
	assert.Zero(t, metrics.AvgScore)
}

func TestNewModelMetricsUsage(t *testing.T) {
	withUsage := rag.NewModelMetrics(time.Now(), time.Millisecond, time.Second, &llm.Usage{
		PromptTokens:     120,
		CompletionTokens: 80,
	})
	require.NotNil(t, withUsage.PromptTokens)
	require.NotNil(t, withUsage.CompletionTokens)
	assert.Equal(t, 120, *withUsage.PromptTokens)
	assert.Equal(t, 80, *withUsage.CompletionTokens)

	withoutUsage := rag.NewModelMetrics(time.Now(), 0, 0, nil)
	assert.Nil(t, withoutUsage.PromptTokens)
	assert.Nil(t, withoutUsage.CompletionTokens)
}

func TestResponseTotalTime(t *testing.T) {
	response := rag.Response{
		SearchMetrics: rag.SearchMetrics{TotalTime: 2 * time.Second},
		ModelMetrics:  rag.ModelMetrics{TotalTime: 3 * time.Second},
	}

	assert.Equal(t, 5*time.Second, response.TotalTime())
	assert.False(t, response.Failed())

	degraded := rag.Response{Error: "retrieval failed"}
	assert.True(t, degraded.Failed())
}
