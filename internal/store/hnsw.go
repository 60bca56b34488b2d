package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
)

// Blob keys for the embedded vector index.
const (
	DefaultHNSWGraphKey = "indexes/vectors.hnsw"
	DefaultHNSWMetaKey  = "indexes/vectors_meta.json"
)

// HNSWIndex is the embedded VectorIndex: an in-process HNSW graph
// over cosine distance with string-to-uint64 key mapping, persisted
// to the blob store as a graph export plus a JSON mapping snapshot.
//
// Deletion is lazy: removing an ID only drops its mapping, leaving an
// orphaned node in the graph. Orphans are skipped during search and
// reclaimed when the index is next rebuilt from scratch.
type HNSWIndex struct {
	store    blob.Store
	graphKey string
	metaKey  string
	logger   *slog.Logger

	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int
	m          int
	efSearch   int
	idMap      map[string]uint64
	keyMap     map[uint64]string
	nextKey    uint64
}

var _ VectorIndex = (*HNSWIndex)(nil)

// hnswMeta is the persisted ID mapping snapshot.
type hnswMeta struct {
	IDMap      map[string]uint64 `json:"id_map"`
	NextKey    uint64            `json:"next_key"`
	Dimensions int               `json:"dimensions"`
}

// HNSWConfig configures the embedded index.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
	GraphKey   string
	MetaKey    string
}

// NewHNSWIndex creates an embedded vector index persisting to the
// given blob store.
func NewHNSWIndex(store blob.Store, cfg HNSWConfig, logger *slog.Logger) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 100
	}
	if cfg.GraphKey == "" {
		cfg.GraphKey = DefaultHNSWGraphKey
	}
	if cfg.MetaKey == "" {
		cfg.MetaKey = DefaultHNSWMetaKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &HNSWIndex{
		store:      store,
		graphKey:   cfg.GraphKey,
		metaKey:    cfg.MetaKey,
		logger:     logger,
		dimensions: cfg.Dimensions,
		m:          cfg.M,
		efSearch:   cfg.EfSearch,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
	idx.graph = idx.newGraph()
	return idx
}

func (idx *HNSWIndex) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = idx.m
	g.EfSearch = idx.efSearch
	g.Ml = 0.25
	return g
}

// Load restores the graph and ID mappings from the blob store.
// Missing blobs yield an empty index.
func (idx *HNSWIndex) Load(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	metaData, err := idx.store.Get(ctx, idx.metaKey)
	if err != nil {
		if blob.IsNotFound(err) {
			idx.logger.Warn("vector index does not exist, starting empty", "key", idx.metaKey)
			return nil
		}
		return apperr.Unavailable("hnsw.load", err)
	}

	var meta hnswMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return apperr.Corrupt("hnsw.load", err)
	}

	graphData, err := idx.store.Get(ctx, idx.graphKey)
	if err != nil {
		if blob.IsNotFound(err) {
			return apperr.Corrupt("hnsw.load",
				fmt.Errorf("mapping snapshot exists but graph blob %q is missing", idx.graphKey))
		}
		return apperr.Unavailable("hnsw.load", err)
	}

	graph := idx.newGraph()
	// Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(bytes.NewReader(graphData))); err != nil {
		return apperr.Corrupt("hnsw.load", err)
	}

	idx.graph = graph
	idx.idMap = meta.IDMap
	idx.nextKey = meta.NextKey
	if meta.Dimensions != 0 {
		idx.dimensions = meta.Dimensions
	}
	idx.keyMap = make(map[uint64]string, len(idx.idMap))
	for id, key := range idx.idMap {
		idx.keyMap[key] = id
	}

	idx.logger.Info("loaded vector index", "vectors", len(idx.idMap))
	return nil
}

// Save persists the graph export and the ID mapping snapshot.
func (idx *HNSWIndex) Save(ctx context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf bytes.Buffer
	if err := idx.graph.Export(&buf); err != nil {
		return apperr.Internal("hnsw.save", err)
	}

	meta := hnswMeta{
		IDMap:      idx.idMap,
		NextKey:    idx.nextKey,
		Dimensions: idx.dimensions,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return apperr.Internal("hnsw.save", err)
	}

	if err := idx.store.Put(ctx, idx.graphKey, buf.Bytes()); err != nil {
		return apperr.Unavailable("hnsw.save", err)
	}
	if err := idx.store.Put(ctx, idx.metaKey, metaData); err != nil {
		return apperr.Unavailable("hnsw.save", err)
	}

	idx.logger.Info("saved vector index", "vectors", len(idx.idMap))
	return nil
}

// Upsert inserts or replaces vectors by ID. Replacement orphans the
// old graph node rather than deleting it.
func (idx *HNSWIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	idx.mu.Lock()
	for _, v := range vectors {
		if idx.dimensions != 0 && len(v.Embedding) != idx.dimensions {
			idx.mu.Unlock()
			return apperr.Invalid("hnsw.upsert",
				fmt.Sprintf("dimension mismatch for %s: expected %d, got %d",
					v.ID, idx.dimensions, len(v.Embedding)))
		}

		if oldKey, exists := idx.idMap[v.ID]; exists {
			delete(idx.keyMap, oldKey)
			delete(idx.idMap, v.ID)
		}

		key := idx.nextKey
		idx.nextKey++

		vec := make([]float32, len(v.Embedding))
		copy(vec, v.Embedding)
		normalize(vec)

		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[v.ID] = key
		idx.keyMap[key] = v.ID
	}
	count := len(idx.idMap)
	idx.mu.Unlock()

	idx.logger.Info("upserted vectors", "count", len(vectors), "total", count)
	return idx.Save(ctx)
}

// Delete removes IDs from the mapping. The graph nodes stay behind as
// orphans; deleting an absent ID is not an error.
func (idx *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	idx.mu.Lock()
	removed := 0
	for _, id := range ids {
		if key, exists := idx.idMap[id]; exists {
			delete(idx.keyMap, key)
			delete(idx.idMap, id)
			removed++
		}
	}
	idx.mu.Unlock()

	if removed == 0 {
		return nil
	}
	idx.logger.Info("deleted vectors", "count", removed)
	return idx.Save(ctx)
}

// Search returns up to k hits ordered by ascending cosine distance.
// Orphaned nodes are skipped, so the graph is over-queried to keep k
// live results available.
func (idx *HNSWIndex) Search(_ context.Context, embedding []float32, k int) ([]VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dimensions != 0 && len(embedding) != idx.dimensions {
		return nil, apperr.Invalid("hnsw.search",
			fmt.Sprintf("dimension mismatch: expected %d, got %d", idx.dimensions, len(embedding)))
	}
	if idx.graph.Len() == 0 || len(idx.idMap) == 0 {
		return []VectorHit{}, nil
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalize(query)

	// Fetch extra candidates to cover lazily deleted nodes.
	orphans := idx.graph.Len() - len(idx.idMap)
	nodes := idx.graph.Search(query, k+orphans)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, ok := idx.keyMap[node.Key]
		if !ok {
			continue // orphaned by lazy deletion
		}
		hits = append(hits, VectorHit{
			ID:       id,
			Distance: idx.graph.Distance(query, node.Value),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Stats reports configuration and orphan counts for the embedded
// backend.
func (idx *HNSWIndex) Stats() VectorStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return VectorStats{
		Backend:    "embedded",
		Dimensions: idx.dimensions,
		Ready:      true,
		Nodes:      idx.graph.Len(),
		Orphans:    idx.graph.Len() - len(idx.idMap),
	}
}

// normalize scales v to unit length in place. Zero vectors are left
// unchanged.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
