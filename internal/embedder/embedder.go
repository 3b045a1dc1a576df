// Package embedder provides implementations for converting text into dense
// vector embeddings. Each implementation talks to a different backend
// (OpenAI, Ollama) via plain HTTP — no additional SDK dependencies are
// required. All tables storing embeddings must agree on the configured
// vector dimension, so the dimension is resolved once at startup and shared.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ServiceError wraps a failure of the external embedding service (network,
// quota, malformed response). Callers decide whether the enclosing operation
// is retryable: the query path retries once, ingestion records the failure
// and continues with the next item.
type ServiceError struct {
	// Backend is the embedding backend name (e.g. "openai", "ollama").
	Backend string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedder: %s: %v", e.Backend, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// EmbedOne embeds a single text and returns its vector. It is the common
// entry point for the query path, where exactly one question is embedded.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// normalize collapses newlines and runs of whitespace into single spaces
// before embedding so semantically identical inputs produce stable vectors
// regardless of line wrapping.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// normalizeAll returns a normalized copy of texts.
func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = normalize(t)
	}
	return out
}
