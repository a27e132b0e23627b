// Package embeddings holds the provider-neutral embedding client contract plus the
// OpenAI-compatible and deterministic mock implementations.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when a client is asked to embed blank text.
var ErrEmptyInput = errors.New("embeddings: input text is empty")

// Client generates embedding vectors for text.
type Client interface {
	// CreateEmbedding returns a fixed-length, unit-length vector for input.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}
