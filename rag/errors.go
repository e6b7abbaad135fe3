package rag

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds surfaced by the pipeline stages. Wrapped with context at
// the point of failure; match with errors.Is.
var (
	// ErrEmbedding signals the embedding collaborator was unavailable or
	// returned no vector.
	ErrEmbedding = errors.New("embedding failed")

	// ErrRetrieval signals the search collaborator was unreachable or the
	// backing index is missing or empty.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrModelResponse signals the language model returned a malformed or
	// absent response.
	ErrModelResponse = errors.New("invalid model response")
)

// TemplateError reports the template strings missing from a custom
// formatter configuration. Raised eagerly at construction.
type TemplateError struct {
	Missing []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("missing required templates: %s", strings.Join(e.Missing, ", "))
}
