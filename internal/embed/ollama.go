package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// OllamaEmbedder generates embeddings through a local or remote
// Ollama server. Calls are rate limited so bulk reindexing cannot
// starve the query path of embedding throughput.
type OllamaEmbedder struct {
	llm        *ollama.LLM
	model      string
	dimensions int
	batchSize  int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Embedder = (*OllamaEmbedder)(nil)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host              string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestsPerSecond float64
}

// NewOllamaEmbedder creates an embedder bound to the given Ollama
// server and model.
func NewOllamaEmbedder(cfg OllamaConfig, logger *slog.Logger) (*OllamaEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.Host != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Host))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, apperr.Config("embed.new", fmt.Sprintf("initialize ollama client: %v", err))
	}

	return &OllamaEmbedder{
		llm:        llm,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     logger,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings in server-side batches, preserving
// input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, apperr.Unavailable("embed.batch", err)
		}

		vecs, err := e.llm.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, apperr.Unavailable("embed.batch", err)
		}
		if len(vecs) != end-start {
			return nil, apperr.Internal("embed.batch",
				fmt.Errorf("expected %d embeddings, got %d", end-start, len(vecs)))
		}
		for _, v := range vecs {
			if len(v) != e.dimensions {
				return nil, apperr.Internal("embed.batch",
					fmt.Errorf("model returned %d dimensions, expected %d", len(v), e.dimensions))
			}
		}
		results = append(results, vecs...)
	}

	e.logger.Debug("embedded texts", "count", len(texts), "model", e.model)
	return results, nil
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}
