package rag

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/llm"
)

const (
	DefaultMaxContextChars = 14000
	DefaultExcerptChars    = 1500

	noPapersContext = "No relevant academic papers found."
)

// Formatter turns retrieved sources into a bounded context block and a
// two-message prompt for the language model.
type Formatter interface {
	FormatContext(sources []Source) string
	GeneratePrompt(question, context string) []llm.Message
}

const academicSystemPrompt = `You are a specialized AI assistant for academic research papers.
When answering questions:
1. Always reference papers using their numbered format: Paper [X] (YEAR, CATEGORY).
2. Include the title and URL of each paper when citing.
3. Begin with a high-level overview of how the papers relate to the question.
4. For each relevant paper:
   - State its main findings and contributions.
   - Explain technical concepts and methodologies.
   - Highlight unique or significant results.
5. Compare and contrast findings across papers.
6. Use specific quotes or data points, citing the source paper.
7. Maintain academic precision and technical accuracy.
8. End with a synthesis of key insights across all papers.`

// AcademicFormatter renders sources with the fixed paper template and
// keeps the assembled context inside a character budget.
type AcademicFormatter struct {
	maxContextChars int
	excerptChars    int
	logger          *zap.Logger
}

func NewAcademicFormatter(maxContextChars, excerptChars int, logger *zap.Logger) *AcademicFormatter {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcademicFormatter{
		maxContextChars: maxContextChars,
		excerptChars:    excerptChars,
		logger:          logger,
	}
}

// FormatSource renders a single source with its 1-based context index.
func (f *AcademicFormatter) FormatSource(index int, source Source) string {
	return fmt.Sprintf(`[Paper %d] - %d, %s
Title: %s
URL: %s

Abstract:
%s

Key Points:
%s

Technical Terms:
%s

Identified Relationships:
%s

Summary:
%s

Relevant Excerpt:
%s

-----------------------------------`,
		index, source.Year, source.Category,
		orDefault(source.Title(), "No Title Provided"),
		orDefault(source.URL, "No URL"),
		orDefault(source.Abstract, "Abstract not available."),
		orDefault(source.KeyPoints, "No key points provided."),
		orDefault(source.TechnicalTerms, "No technical terms provided."),
		orDefault(source.Relationships, "No relationships identified."),
		orDefault(source.Summary, "Summary not available."),
		shorten(source.FullText, f.excerptChars),
	)
}

// FormatContext concatenates rendered sources in rank order until the
// next one would exceed the budget, then appends a bibliography covering
// exactly the included sources. Indices in the bibliography match the
// indices used in the body.
func (f *AcademicFormatter) FormatContext(sources []Source) string {
	if len(sources) == 0 {
		return noPapersContext
	}

	parts := make([]string, 0, len(sources))
	total := 0
	for i, source := range sources {
		rendered := f.FormatSource(i+1, source)
		if total+len(rendered) > f.maxContextChars {
			f.logger.Warn("truncating context due to length limit",
				zap.Int("included", len(parts)),
				zap.Int("dropped", len(sources)-len(parts)),
			)
			break
		}
		parts = append(parts, rendered)
		total += len(rendered)
	}

	bibliography := f.bibliography(sources[:len(parts)])
	return strings.Join(parts, "\n\n") + "\n\n" + bibliography
}

func (f *AcademicFormatter) bibliography(sources []Source) string {
	entries := make([]string, len(sources))
	for i, source := range sources {
		entries[i] = fmt.Sprintf("- Paper [%d]: %q (%d, %s). URL: %s",
			i+1,
			orDefault(source.Title(), "No Title Provided"),
			source.Year,
			source.Category,
			orDefault(source.URL, "No URL"),
		)
	}
	return "Bibliography:\n" + strings.Join(entries, "\n")
}

func (f *AcademicFormatter) GeneratePrompt(question, context string) []llm.Message {
	userPrompt := fmt.Sprintf(`Research Question: %s

Relevant Research Papers:
====================
%s
====================

Please provide a comprehensive analysis that:
1. Introduces each relevant paper and its key contributions.
2. Uses specific citations when discussing findings.
3. Explains technical concepts in detail.
4. Compares methodologies and results across papers.
5. Synthesizes the current state of research on this topic.`, question, context)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: academicSystemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}
}

var _ Formatter = (*AcademicFormatter)(nil)

// TemplateFormatter substitutes source fields into caller-supplied
// templates, for presentation styles beyond the academic default.
type TemplateFormatter struct {
	systemPrompt    string
	contextTemplate string
	sourceTemplate  string
}

// NewTemplateFormatter validates the templates eagerly and reports every
// missing one at once via *TemplateError.
func NewTemplateFormatter(systemPrompt, contextTemplate, sourceTemplate string) (*TemplateFormatter, error) {
	var missing []string
	if strings.TrimSpace(systemPrompt) == "" {
		missing = append(missing, "system_prompt")
	}
	if strings.TrimSpace(contextTemplate) == "" {
		missing = append(missing, "context_template")
	}
	if strings.TrimSpace(sourceTemplate) == "" {
		missing = append(missing, "source_template")
	}
	if len(missing) > 0 {
		return nil, &TemplateError{Missing: missing}
	}

	return &TemplateFormatter{
		systemPrompt:    systemPrompt,
		contextTemplate: contextTemplate,
		sourceTemplate:  sourceTemplate,
	}, nil
}

func (f *TemplateFormatter) FormatContext(sources []Source) string {
	rendered := make([]string, len(sources))
	for i, source := range sources {
		rendered[i] = f.renderSource(i+1, source)
	}
	return strings.ReplaceAll(f.contextTemplate, "{sources}", strings.Join(rendered, "\n\n"))
}

func (f *TemplateFormatter) renderSource(index int, source Source) string {
	replacer := strings.NewReplacer(
		"{index}", strconv.Itoa(index),
		"{doc_id}", strconv.FormatInt(source.DocID, 10),
		"{title}", source.Title(),
		"{url}", source.URL,
		"{source_file}", source.SourceFile,
		"{year}", strconv.Itoa(source.Year),
		"{category}", source.Category,
		"{abstract}", source.Abstract,
		"{full_text}", source.FullText,
		"{summary}", source.Summary,
		"{key_points}", source.KeyPoints,
		"{technical_terms}", source.TechnicalTerms,
		"{relationships}", source.Relationships,
		"{score}", strconv.FormatFloat(source.Score, 'f', 4, 64),
	)
	return replacer.Replace(f.sourceTemplate)
}

func (f *TemplateFormatter) GeneratePrompt(question, context string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: f.systemPrompt},
		{Role: llm.RoleUser, Content: question + "\n\n" + context},
	}
}

var _ Formatter = (*TemplateFormatter)(nil)

const (
	FormatterAcademic = "academic"
	FormatterCustom   = "custom"
)

// FormatterOptions configures the formatter factory. Template fields are
// only consulted for the custom kind.
type FormatterOptions struct {
	MaxContextChars int
	ExcerptChars    int
	SystemPrompt    string
	ContextTemplate string
	SourceTemplate  string
	Logger          *zap.Logger
}

func NewFormatter(kind string, opts FormatterOptions) (Formatter, error) {
	switch kind {
	case FormatterAcademic, "":
		return NewAcademicFormatter(opts.MaxContextChars, opts.ExcerptChars, opts.Logger), nil
	case FormatterCustom:
		return NewTemplateFormatter(opts.SystemPrompt, opts.ContextTemplate, opts.SourceTemplate)
	default:
		return nil, fmt.Errorf("unknown formatter type: %s", kind)
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// shorten collapses whitespace and trims the text to width characters at
// a word boundary, marking the cut with an ellipsis.
func shorten(text string, width int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return "No text available."
	}
	if len(collapsed) <= width {
		return collapsed
	}
	if width <= 3 {
		return "..."
	}
	cut := collapsed[:width-3]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
