// Package embed maps text to fixed-dimension vectors via an Ollama
// embedding model, with LRU caching keyed by content hash.
package embed

import (
	"context"
	"time"
)

// Defaults for the Ollama embedder.
const (
	DefaultModel      = "nomic-embed-text"
	DefaultDimensions = 768
	DefaultBatchSize  = 32
	DefaultTimeout    = 60 * time.Second

	// DefaultCacheSize bounds the embedding LRU. At 768 dims * 4 bytes
	// per entry this is roughly 12MB.
	DefaultCacheSize = 4096
)

// Embedder maps text to a fixed-dimension vector. Identical text must
// yield identical vectors so results are cacheable by content hash.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, index-aligned
	// with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}
