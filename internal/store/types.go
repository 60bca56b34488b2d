// Package store implements the three retrieval stores: the durable
// chunk store, the BM25 keyword index, and the vector index. Chunk IDs
// are the join key across all three; every store must use identical
// IDs for the same logical chunk.
package store

import (
	"context"
)

// ChunkMeta is the per-document provenance carried alongside keyword
// index entries.
type ChunkMeta struct {
	SourceURL string `json:"source_url"`
	DocTitle  string `json:"doc_title"`
	Section   string `json:"section"`
}

// Vector pairs a chunk ID with its embedding for upload.
type Vector struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
}

// VectorHit is a nearest-neighbor result, ascending cosine distance.
type VectorHit struct {
	ID       string  `json:"id"`
	Distance float32 `json:"distance"`
}

// BM25Result is one keyword search hit.
type BM25Result struct {
	ChunkID  string    `json:"chunk_id"`
	Score    float64   `json:"score"`
	Text     string    `json:"text"`
	Metadata ChunkMeta `json:"metadata"`
}

// VectorIndex is the approximate nearest-neighbor index over chunk
// embeddings. Implementations: the in-process HNSW graph and the
// remote ANN service client.
type VectorIndex interface {
	// Search returns up to k hits ordered by ascending distance.
	Search(ctx context.Context, embedding []float32, k int) ([]VectorHit, error)

	// Upsert inserts or replaces vectors by ID. Idempotent.
	Upsert(ctx context.Context, vectors []Vector) error

	// Delete removes vectors by ID. Deleting absent IDs is not an error.
	Delete(ctx context.Context, ids []string) error

	// Stats reports configuration identifiers and readiness, not
	// counts; exact counts can be expensive against a remote service.
	Stats() VectorStats
}

// VectorStats describes a vector index's configuration and readiness.
type VectorStats struct {
	Backend    string `json:"backend"`
	Dimensions int    `json:"dimensions"`
	Ready      bool   `json:"ready"`
	// Endpoint is set for the remote backend.
	Endpoint string `json:"endpoint,omitempty"`
	// Nodes and Orphans are set for the embedded backend. Orphans are
	// lazily deleted graph nodes awaiting compaction.
	Nodes   int `json:"nodes,omitempty"`
	Orphans int `json:"orphans,omitempty"`
}

// ChunkStoreStats summarizes chunk store contents.
type ChunkStoreStats struct {
	TotalChunks   int            `json:"total_chunks"`
	UniqueSources int            `json:"unique_sources"`
	Sources       map[string]int `json:"sources"`
	CacheLoaded   bool           `json:"cache_loaded"`
}

// BM25Stats summarizes keyword index contents.
type BM25Stats struct {
	TotalDocuments int            `json:"total_documents"`
	UniqueSources  int            `json:"unique_sources"`
	Sources        map[string]int `json:"sources"`
	IndexLoaded    bool           `json:"index_loaded"`
}
