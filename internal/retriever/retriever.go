// Package retriever owns component lifecycle and exposes the
// document-level operations the rest of the service builds on:
// indexing, deletion, reindexing, and hybrid retrieval.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/embed"
	"github.com/auditkit/guideline-rag/internal/search"
	"github.com/auditkit/guideline-rag/internal/store"
)

// Document is a unit of indexable content.
type Document struct {
	URL         string
	Title       string
	Content     string
	ContentType chunk.ContentType
}

// ReindexError records a single document's failure during reindexing.
type ReindexError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// ReindexStats aggregates a reindex run.
type ReindexStats struct {
	TotalDocs    int            `json:"total_docs"`
	TotalChunks  int            `json:"total_chunks"`
	SuccessCount int            `json:"success_count"`
	Errors       []ReindexError `json:"errors"`
}

// Stats summarizes the state of all retrieval components.
type Stats struct {
	Initialized bool                  `json:"initialized"`
	ChunkStore  store.ChunkStoreStats `json:"chunk_store"`
	BM25        store.BM25Stats       `json:"bm25"`
	Vector      store.VectorStats     `json:"vector"`
	Embedding   EmbeddingStats        `json:"embedding"`
}

// EmbeddingStats reports embedder configuration and cache activity.
type EmbeddingStats struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	CacheHits  int64  `json:"cache_hits"`
	CacheMiss  int64  `json:"cache_misses"`
	CacheSize  int    `json:"cache_size"`
}

// Retriever wires the chunker, embedder, and all three stores. All
// mutating operations are serialized through a single writer lock;
// the keyword index's rebuild-on-mutation design loses updates under
// concurrent writers otherwise.
type Retriever struct {
	cfg    *config.Config
	logger *slog.Logger

	initMu      sync.Mutex
	initialized bool

	writeMu sync.Mutex

	embedOverride embed.Embedder

	blobStore  blob.Store
	chunker    *chunk.Chunker
	embedder   *embed.CachedEmbedder
	vector     store.VectorIndex
	chunkStore *store.ChunkStore
	bm25       *store.BM25Index
	manager    *search.Manager
}

// Option customizes retriever construction.
type Option func(*Retriever)

// WithEmbedder substitutes the embedding provider. The override is
// still wrapped in the LRU cache.
func WithEmbedder(e embed.Embedder) Option {
	return func(r *Retriever) { r.embedOverride = e }
}

// New creates an unwired retriever. Call Initialize before use.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize constructs and wires all components in dependency order.
// Idempotent: a second call is a no-op. Every other method fails fast
// until this succeeds.
func (r *Retriever) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.initialized {
		return nil
	}

	blobStore, err := r.newBlobStore(ctx)
	if err != nil {
		return err
	}
	r.blobStore = blobStore

	inner := r.embedOverride
	if inner == nil {
		inner, err = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:              r.cfg.Embedding.OllamaHost,
			Model:             r.cfg.Embedding.Model,
			Dimensions:        r.cfg.Embedding.Dimensions,
			BatchSize:         r.cfg.Embedding.BatchSize,
			RequestsPerSecond: r.cfg.Embedding.RequestsPerSecond,
		}, r.logger)
		if err != nil {
			return err
		}
	}
	r.embedder, err = embed.NewCachedEmbedder(inner, r.cfg.Embedding.CacheSize, r.logger)
	if err != nil {
		return err
	}

	r.vector, err = r.newVectorIndex(ctx, blobStore)
	if err != nil {
		return err
	}

	r.chunkStore = store.NewChunkStore(blobStore, "", r.logger)
	if err := r.chunkStore.Load(ctx, false); err != nil {
		return err
	}

	r.bm25 = store.NewBM25Index(blobStore, "", r.cfg.Search.BM25K1, r.cfg.Search.BM25B, r.logger)
	if err := r.bm25.Load(ctx); err != nil {
		return err
	}

	r.chunker = chunk.NewChunker(
		r.cfg.Chunking.TargetSize, r.cfg.Chunking.MaxSize, r.cfg.Chunking.Overlap, r.logger)

	r.manager = search.NewManager(r.embedder, r.vector, r.bm25, r.chunkStore, search.ManagerConfig{
		RRFConstant: r.cfg.Search.RRFConstant,
		TopK:        r.cfg.Search.TopK,
		Overfetch:   r.cfg.Search.Overfetch,
	}, r.logger)

	r.initialized = true
	r.logger.Info("retriever initialized",
		"storage", r.cfg.Storage.Backend,
		"vector", r.cfg.Vector.Backend,
		"embedding_model", r.embedder.ModelName())
	return nil
}

func (r *Retriever) newBlobStore(ctx context.Context) (blob.Store, error) {
	switch r.cfg.Storage.Backend {
	case "fs":
		return blob.NewFSStore(r.cfg.Storage.Path)
	case "gcs":
		return blob.NewGCSStore(ctx, r.cfg.Storage.Bucket, r.cfg.Storage.Prefix)
	case "mem":
		return blob.NewMemStore(), nil
	default:
		return nil, apperr.Config("retriever.init",
			fmt.Sprintf("unknown storage backend %q", r.cfg.Storage.Backend))
	}
}

func (r *Retriever) newVectorIndex(ctx context.Context, blobStore blob.Store) (store.VectorIndex, error) {
	switch r.cfg.Vector.Backend {
	case "embedded":
		idx := store.NewHNSWIndex(blobStore, store.HNSWConfig{
			Dimensions: r.cfg.Embedding.Dimensions,
			M:          r.cfg.Vector.M,
			EfSearch:   r.cfg.Vector.EfSearch,
		}, r.logger)
		if err := idx.Load(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "remote":
		return store.NewRemoteIndex(store.RemoteConfig{
			Endpoint:   r.cfg.Vector.Endpoint,
			Dimensions: r.cfg.Embedding.Dimensions,
			Timeout:    r.cfg.Vector.Timeout,
		}, r.logger)
	default:
		return nil, apperr.Config("retriever.init",
			fmt.Sprintf("unknown vector backend %q", r.cfg.Vector.Backend))
	}
}

func (r *Retriever) checkInitialized(op string) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if !r.initialized {
		return apperr.New(apperr.KindInvalid, op, "retriever is not initialized")
	}
	return nil
}

// Retrieve runs a hybrid search and returns formatted results.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]search.Result, error) {
	if err := r.checkInitialized("retriever.retrieve"); err != nil {
		return nil, err
	}
	return r.manager.Search(ctx, query, topK), nil
}

// IndexDocument chunks, embeds, and writes a document into all three
// stores. Returns the number of chunks indexed. Zero chunks is not an
// error and touches nothing.
func (r *Retriever) IndexDocument(ctx context.Context, doc Document) (int, error) {
	if err := r.checkInitialized("retriever.index"); err != nil {
		return 0, err
	}

	chunks := r.chunker.Chunk(doc.Content, doc.URL, doc.Title, doc.ContentType)
	if len(chunks) == 0 {
		r.logger.Warn("document produced no chunks", "url", doc.URL)
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	vectors := make([]store.Vector, len(chunks))
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
		vectors[i] = store.Vector{ID: chunks[i].ID, Embedding: embeddings[i]}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.vector.Upsert(ctx, vectors); err != nil {
		return 0, err
	}
	if err := r.bm25.Add(ctx, chunks); err != nil {
		return 0, err
	}
	if err := r.chunkStore.Add(ctx, chunks); err != nil {
		return 0, err
	}

	r.logger.Info("document indexed", "url", doc.URL, "chunks", len(chunks))
	return len(chunks), nil
}

// DeleteDocument removes all of a source URL's chunks from every
// store. Returns the number of chunks removed; 0 if nothing matched.
func (r *Retriever) DeleteDocument(ctx context.Context, url string) (int, error) {
	if err := r.checkInitialized("retriever.delete"); err != nil {
		return 0, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ids := r.chunkStore.IDsBySource(ctx, url)
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.vector.Delete(ctx, ids); err != nil {
		return 0, err
	}
	if _, err := r.bm25.RemoveBySource(ctx, url); err != nil {
		return 0, err
	}
	removed, err := r.chunkStore.DeleteBySource(ctx, url)
	if err != nil {
		return 0, err
	}

	r.logger.Info("document deleted", "url", url, "chunks", removed)
	return removed, nil
}

// ReindexAll indexes documents sequentially, collecting per-document
// failures instead of aborting. The returned stats record every
// failed URL alongside aggregate counts.
func (r *Retriever) ReindexAll(ctx context.Context, docs []Document) (ReindexStats, error) {
	if err := r.checkInitialized("retriever.reindex"); err != nil {
		return ReindexStats{}, err
	}

	stats := ReindexStats{TotalDocs: len(docs), Errors: []ReindexError{}}
	for _, doc := range docs {
		n, err := r.IndexDocument(ctx, doc)
		if err != nil {
			r.logger.Error("reindex document failed", "url", doc.URL, "error", err)
			stats.Errors = append(stats.Errors, ReindexError{URL: doc.URL, Error: err.Error()})
			continue
		}
		stats.TotalChunks += n
		stats.SuccessCount++
	}

	r.logger.Info("reindex completed",
		"total_docs", stats.TotalDocs,
		"total_chunks", stats.TotalChunks,
		"success", stats.SuccessCount,
		"failures", len(stats.Errors))
	return stats, nil
}

// Stats reports the state of every component.
func (r *Retriever) Stats(ctx context.Context) Stats {
	if err := r.checkInitialized("retriever.stats"); err != nil {
		return Stats{}
	}

	hits, misses, size := r.embedder.CacheStats()
	return Stats{
		Initialized: true,
		ChunkStore:  r.chunkStore.Stats(ctx),
		BM25:        r.bm25.Stats(),
		Vector:      r.vector.Stats(),
		Embedding: EmbeddingStats{
			Model:      r.embedder.ModelName(),
			Dimensions: r.embedder.Dimensions(),
			CacheHits:  hits,
			CacheMiss:  misses,
			CacheSize:  size,
		},
	}
}

// ChunkStore exposes the chunk store for read-only callers.
func (r *Retriever) ChunkStore() *store.ChunkStore {
	return r.chunkStore
}

// BlobStore exposes the underlying blob store so collaborators like
// the managed URL registry can share the same storage backend. Nil
// before Initialize.
func (r *Retriever) BlobStore() blob.Store {
	return r.blobStore
}
