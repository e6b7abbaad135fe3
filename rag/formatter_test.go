package rag_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/paper-rag/llm"
	"github.com/mthorsen/paper-rag/rag"
)

func testSource(i int) rag.Source {
	return rag.Source{
		DocID:          int64(i),
		SourceFile:     fmt.Sprintf("210%d-paper-number-%d_embedded.json", i, i),
		URL:            fmt.Sprintf("https://arxiv.org/abs/210%d.0000%d", i, i),
		Year:           2020 + i,
		Category:       "cs.LG",
		Abstract:       strings.Repeat("abstract ", 30),
		FullText:       strings.Repeat("body text ", 200),
		Summary:        "A summary.",
		KeyPoints:      "point one; point two",
		TechnicalTerms: "transformers, attention",
		Relationships:  "builds on earlier work",
		Score:          0.1 * float64(i),
	}
}

func TestFormatContextIncludesLongestFittingPrefix(t *testing.T) {
	sources := []rag.Source{testSource(1), testSource(2), testSource(3)}

	probe := rag.NewAcademicFormatter(1_000_000, 100, nil)
	l1 := len(probe.FormatSource(1, sources[0]))
	l2 := len(probe.FormatSource(2, sources[1]))

	// Budget fits exactly the first two rendered sources.
	formatter := rag.NewAcademicFormatter(l1+l2, 100, nil)
	context := formatter.FormatContext(sources)

	assert.Contains(t, context, "[Paper 1]")
	assert.Contains(t, context, "[Paper 2]")
	assert.NotContains(t, context, "[Paper 3]")

	assert.Contains(t, context, "- Paper [1]:")
	assert.Contains(t, context, "- Paper [2]:")
	assert.NotContains(t, context, "- Paper [3]:")
}

func TestFormatContextNeverPartiallyRendersASource(t *testing.T) {
	sources := []rag.Source{testSource(1), testSource(2)}

	probe := rag.NewAcademicFormatter(1_000_000, 100, nil)
	l1 := len(probe.FormatSource(1, sources[0]))

	// One character short of fitting the second source.
	formatter := rag.NewAcademicFormatter(l1+len(probe.FormatSource(2, sources[1]))-1, 100, nil)
	context := formatter.FormatContext(sources)

	assert.Contains(t, context, "[Paper 1]")
	assert.NotContains(t, context, "[Paper 2]")
}

func TestFormatContextEmptySources(t *testing.T) {
	formatter := rag.NewAcademicFormatter(0, 0, nil)
	assert.Equal(t, "No relevant academic papers found.", formatter.FormatContext(nil))
}

func TestFormatSourceFallbacks(t *testing.T) {
	formatter := rag.NewAcademicFormatter(0, 0, nil)
	rendered := formatter.FormatSource(1, rag.Source{SourceFile: "x_embedded.json"})

	assert.Contains(t, rendered, "No URL")
	assert.Contains(t, rendered, "Abstract not available.")
	assert.Contains(t, rendered, "No key points provided.")
	assert.Contains(t, rendered, "No technical terms provided.")
	assert.Contains(t, rendered, "No relationships identified.")
	assert.Contains(t, rendered, "Summary not available.")
}

func TestFormatSourceTruncatesExcerpt(t *testing.T) {
	formatter := rag.NewAcademicFormatter(0, 50, nil)
	source := rag.Source{
		SourceFile: "x_embedded.json",
		FullText:   strings.Repeat("word ", 100),
	}

	rendered := formatter.FormatSource(1, source)
	assert.Contains(t, rendered, "...")

	excerptStart := strings.Index(rendered, "Relevant Excerpt:\n")
	require.GreaterOrEqual(t, excerptStart, 0)
	excerpt := rendered[excerptStart+len("Relevant Excerpt:\n"):]
	excerpt = excerpt[:strings.Index(excerpt, "\n")]
	assert.LessOrEqual(t, len(excerpt), 50)
}

func TestGeneratePromptShape(t *testing.T) {
	formatter := rag.NewAcademicFormatter(0, 0, nil)
	messages := formatter.GeneratePrompt("What is attention?", "the context block")

	require.Len(t, messages, 2)
	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "What is attention?")
	assert.Contains(t, messages[1].Content, "the context block")
	assert.Contains(t, messages[0].Content, "Paper [X] (YEAR, CATEGORY)")
}

func TestNewTemplateFormatterReportsAllMissingTemplates(t *testing.T) {
	_, err := rag.NewTemplateFormatter("", "context {sources}", "")
	require.Error(t, err)

	var templateErr *rag.TemplateError
	require.True(t, errors.As(err, &templateErr))
	assert.ElementsMatch(t, []string{"system_prompt", "source_template"}, templateErr.Missing)
}

func TestTemplateFormatterSubstitution(t *testing.T) {
	formatter, err := rag.NewTemplateFormatter(
		"You answer briefly.",
		"CONTEXT:\n{sources}",
		"[{index}] {title} ({year}) score={score}",
	)
	require.NoError(t, err)

	source := testSource(1)
	context := formatter.FormatContext([]rag.Source{source})

	assert.Contains(t, context, "CONTEXT:")
	assert.Contains(t, context, "[1] paper number 1 (2021)")

	messages := formatter.GeneratePrompt("q", context)
	require.Len(t, messages, 2)
	assert.Equal(t, "You answer briefly.", messages[0].Content)
}

func TestNewFormatterFactory(t *testing.T) {
	academic, err := rag.NewFormatter(rag.FormatterAcademic, rag.FormatterOptions{})
	require.NoError(t, err)
	assert.IsType(t, &rag.AcademicFormatter{}, academic)

	_, err = rag.NewFormatter(rag.FormatterCustom, rag.FormatterOptions{})
	require.Error(t, err)

	_, err = rag.NewFormatter("markdown", rag.FormatterOptions{})
	require.Error(t, err)
}
