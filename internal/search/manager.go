package search

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/embed"
	"github.com/auditkit/guideline-rag/internal/store"
)

// DefaultTopK is how many results a query returns by default.
const DefaultTopK = 6

// KeywordSearcher is the keyword side of hybrid search.
type KeywordSearcher interface {
	Search(query string, topK int) []store.BM25Result
}

// ChunkResolver maps fused chunk IDs back to full chunk records.
type ChunkResolver interface {
	GetMany(ctx context.Context, ids []string) []chunk.Chunk
}

// Result is a formatted search hit returned to callers.
type Result struct {
	Title   string      `json:"title"`
	Snippet string      `json:"snippet"`
	Link    string      `json:"link"`
	Score   float64     `json:"score"`
	Debug   ResultDebug `json:"debug"`
}

// ResultDebug exposes per-hit fusion provenance.
type ResultDebug struct {
	ChunkID    string `json:"chunk_id"`
	InVector   bool   `json:"in_vector"`
	InBM25     bool   `json:"in_bm25"`
	VectorRank int    `json:"vector_rank,omitempty"`
	BM25Rank   int    `json:"bm25_rank,omitempty"`
}

// Manager runs the hybrid query pipeline: embed the query once,
// fan out to both indexes, fuse by rank, resolve to chunks.
type Manager struct {
	embedder  embed.Embedder
	vector    store.VectorIndex
	keyword   KeywordSearcher
	chunks    ChunkResolver
	fusion    *RRFFusion
	topK      int
	overfetch int
	logger    *slog.Logger
}

// ManagerConfig tunes the hybrid search pipeline.
type ManagerConfig struct {
	RRFConstant int
	TopK        int
	Overfetch   int
}

// NewManager wires the hybrid search pipeline.
func NewManager(
	embedder embed.Embedder,
	vector store.VectorIndex,
	keyword KeywordSearcher,
	chunks ChunkResolver,
	cfg ManagerConfig,
	logger *slog.Logger,
) *Manager {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = DefaultOverfetch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		embedder:  embedder,
		vector:    vector,
		keyword:   keyword,
		chunks:    chunks,
		fusion:    NewRRFFusion(cfg.RRFConstant),
		topK:      cfg.TopK,
		overfetch: cfg.Overfetch,
		logger:    logger,
	}
}

// Search runs the full hybrid pipeline for a query. Any pipeline
// failure is logged and surfaces as an empty result list; callers
// cannot distinguish "no matches" from "upstream down" here.
func (m *Manager) Search(ctx context.Context, query string, topK int) []Result {
	if topK <= 0 {
		topK = m.topK
	}

	results, err := m.search(ctx, query, topK)
	if err != nil {
		m.logger.Error("hybrid search failed", "query", query, "error", err)
		return []Result{}
	}
	return results
}

func (m *Manager) search(ctx context.Context, query string, topK int) ([]Result, error) {
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetchK := topK * m.overfetch

	var vecHits []store.VectorHit
	var kwHits []store.BM25Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := m.vector.Search(gctx, embedding, fetchK)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		kwHits = m.keyword.Search(query, fetchK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := m.fusion.Fuse(vecHits, kwHits)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	ids := make([]string, len(fused))
	byID := make(map[string]FusedResult, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
		byID[f.ChunkID] = f
	}

	// GetMany preserves order and silently drops unresolvable IDs.
	chunks := m.chunks.GetMany(ctx, ids)

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		f := byID[c.ID]
		results = append(results, Result{
			Title:   fmt.Sprintf("%s - %s", c.DocTitle, c.Section),
			Snippet: c.Text,
			Link:    c.SourceURL,
			Score:   f.RRFScore,
			Debug: ResultDebug{
				ChunkID:    f.ChunkID,
				InVector:   f.InVector,
				InBM25:     f.InBM25,
				VectorRank: f.VectorRank,
				BM25Rank:   f.BM25Rank,
			},
		})
	}

	m.logger.Debug("hybrid search completed",
		"query", query, "vector_hits", len(vecHits), "keyword_hits", len(kwHits), "returned", len(results))
	return results, nil
}
