// Package embedding defines the text-to-vector capability used by ingestion and
// retrieval, plus decorators that work with any provider.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider marks failures of the embedding backend.
var ErrProvider = errors.New("embedding provider error")

// Embedder maps text to vectors of a fixed dimension. EmbedBatch returns one
// vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
