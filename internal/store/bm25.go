package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
	"github.com/auditkit/guideline-rag/internal/chunk"
)

// DefaultBM25Key is the blob key for the persisted keyword index.
const DefaultBM25Key = "indexes/bm25_index.json"

// Okapi BM25 defaults.
const (
	DefaultBM25K1      = 1.5
	DefaultBM25B       = 0.75
	DefaultBM25Epsilon = 0.25
)

// BM25Index is the keyword index: Okapi BM25 ranking over chunk
// texts. The ranking model depends on corpus-wide statistics (IDF,
// average document length), so every mutation rebuilds it in full; an
// incremental update would silently score against stale statistics.
//
// Persistence is three index-aligned parallel arrays {documents,
// chunk_ids, metadatas} stored as one JSON blob. The model itself is
// cheap to rebuild and never persisted.
type BM25Index struct {
	store  blob.Store
	key    string
	logger *slog.Logger
	k1     float64
	b      float64

	mu        sync.RWMutex
	documents []string
	chunkIDs  []string
	metadatas []ChunkMeta
	model     *bm25Model
}

// bm25Snapshot is the persisted JSON form.
type bm25Snapshot struct {
	Documents     []string    `json:"documents"`
	ChunkIDs      []string    `json:"chunk_ids"`
	Metadatas     []ChunkMeta `json:"metadatas"`
	DocumentCount int         `json:"document_count"`
}

// NewBM25Index creates a keyword index persisting to key in the given
// blob store. Non-positive parameters fall back to the Okapi defaults.
func NewBM25Index(store blob.Store, key string, k1, b float64, logger *slog.Logger) *BM25Index {
	if key == "" {
		key = DefaultBM25Key
	}
	if k1 <= 0 {
		k1 = DefaultBM25K1
	}
	if b <= 0 {
		b = DefaultBM25B
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BM25Index{
		store:  store,
		key:    key,
		logger: logger,
		k1:     k1,
		b:      b,
	}
}

// tokenize lowercases and splits on whitespace. No stemming, no
// stopwords, no punctuation stripping; punctuation-adjacent tokens
// are distinct from their bare form. Scoring parity depends on this
// staying exact.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Load restores the parallel arrays from the blob store and rebuilds
// the ranking model. A missing blob yields an empty index.
func (idx *BM25Index) Load(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := idx.store.Get(ctx, idx.key)
	if err != nil {
		if blob.IsNotFound(err) {
			idx.logger.Warn("bm25 index does not exist, starting empty", "key", idx.key)
			return nil
		}
		return apperr.Unavailable("bm25.load", err)
	}

	var snap bm25Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return apperr.Corrupt("bm25.load", err)
	}

	idx.documents = snap.Documents
	idx.chunkIDs = snap.ChunkIDs
	idx.metadatas = snap.Metadatas
	idx.rebuildLocked()

	idx.logger.Info("loaded bm25 index", "documents", len(idx.documents), "key", idx.key)
	return nil
}

// rebuildLocked reconstructs the ranking model from the parallel
// arrays. Caller holds the write lock.
func (idx *BM25Index) rebuildLocked() {
	if len(idx.documents) == 0 {
		idx.model = nil
		return
	}
	tokenized := make([][]string, len(idx.documents))
	for i, doc := range idx.documents {
		tokenized[i] = tokenize(doc)
	}
	idx.model = newBM25Model(tokenized, idx.k1, idx.b, DefaultBM25Epsilon)
}

// persistLocked writes the parallel arrays. Caller holds at least the
// read lock.
func (idx *BM25Index) persistLocked(ctx context.Context) error {
	snap := bm25Snapshot{
		Documents:     idx.documents,
		ChunkIDs:      idx.chunkIDs,
		Metadatas:     idx.metadatas,
		DocumentCount: len(idx.documents),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return apperr.Internal("bm25.persist", err)
	}
	if err := idx.store.Put(ctx, idx.key, data); err != nil {
		return apperr.Unavailable("bm25.persist", err)
	}
	idx.logger.Info("saved bm25 index", "documents", len(idx.documents))
	return nil
}

// Build discards any existing index and constructs a fresh one over
// the given chunks, then persists.
func (idx *BM25Index) Build(ctx context.Context, chunks []chunk.Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.documents = make([]string, 0, len(chunks))
	idx.chunkIDs = make([]string, 0, len(chunks))
	idx.metadatas = make([]ChunkMeta, 0, len(chunks))
	for _, ch := range chunks {
		idx.documents = append(idx.documents, ch.Text)
		idx.chunkIDs = append(idx.chunkIDs, ch.ID)
		idx.metadatas = append(idx.metadatas, ChunkMeta{
			SourceURL: ch.SourceURL,
			DocTitle:  ch.DocTitle,
			Section:   ch.Section,
		})
	}

	idx.rebuildLocked()
	idx.logger.Info("built bm25 index", "documents", len(idx.documents))
	return idx.persistLocked(ctx)
}

// Add upserts chunks into the parallel arrays, rebuilds the model
// over the full corpus, and persists. Existing entries with the same
// chunk ID are replaced, matching the vector and chunk stores, so
// re-indexing a document never duplicates its rows.
func (idx *BM25Index) Add(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	incoming := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		incoming[ch.ID] = true
	}
	docs := idx.documents[:0:0]
	ids := idx.chunkIDs[:0:0]
	metas := idx.metadatas[:0:0]
	for i := range idx.chunkIDs {
		if incoming[idx.chunkIDs[i]] {
			continue
		}
		docs = append(docs, idx.documents[i])
		ids = append(ids, idx.chunkIDs[i])
		metas = append(metas, idx.metadatas[i])
	}
	idx.documents = docs
	idx.chunkIDs = ids
	idx.metadatas = metas

	for _, ch := range chunks {
		idx.documents = append(idx.documents, ch.Text)
		idx.chunkIDs = append(idx.chunkIDs, ch.ID)
		idx.metadatas = append(idx.metadatas, ChunkMeta{
			SourceURL: ch.SourceURL,
			DocTitle:  ch.DocTitle,
			Section:   ch.Section,
		})
	}

	idx.rebuildLocked()
	idx.logger.Info("rebuilt bm25 index", "documents", len(idx.documents))
	return idx.persistLocked(ctx)
}

// RemoveBySource filters out entries whose source URL matches,
// rebuilds over the remainder (clearing the model entirely when
// nothing remains), and persists. Returns the removed count.
func (idx *BM25Index) RemoveBySource(ctx context.Context, sourceURL string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	before := len(idx.documents)
	docs := idx.documents[:0:0]
	ids := idx.chunkIDs[:0:0]
	metas := idx.metadatas[:0:0]
	for i := range idx.documents {
		if idx.metadatas[i].SourceURL == sourceURL {
			continue
		}
		docs = append(docs, idx.documents[i])
		ids = append(ids, idx.chunkIDs[i])
		metas = append(metas, idx.metadatas[i])
	}
	idx.documents = docs
	idx.chunkIDs = ids
	idx.metadatas = metas
	removed := before - len(idx.documents)

	idx.rebuildLocked()
	if err := idx.persistLocked(ctx); err != nil {
		return 0, err
	}

	idx.logger.Info("removed documents from bm25 index",
		"count", removed, "source_url", sourceURL)
	return removed, nil
}

// Search scores the query against the corpus and returns the topK
// strictly positive scores in descending order. Zero-scoring
// documents (no term overlap) are excluded rather than padding the
// list. An empty or unloaded index returns no results.
func (idx *BM25Index) Search(query string, topK int) []BM25Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.model == nil || len(idx.documents) == 0 {
		idx.logger.Warn("bm25 index is empty")
		return nil
	}

	scores := idx.model.scores(tokenize(query))

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK < len(order) {
		order = order[:topK]
	}

	results := make([]BM25Result, 0, len(order))
	for _, i := range order {
		if scores[i] <= 0 {
			continue
		}
		results = append(results, BM25Result{
			ChunkID:  idx.chunkIDs[i],
			Score:    scores[i],
			Text:     idx.documents[i],
			Metadata: idx.metadatas[i],
		})
	}

	idx.logger.Debug("bm25 search", "query", query, "results", len(results))
	return results
}

// Stats summarizes index contents by source.
func (idx *BM25Index) Stats() BM25Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sources := make(map[string]int)
	for _, meta := range idx.metadatas {
		sources[meta.SourceURL]++
	}
	return BM25Stats{
		TotalDocuments: len(idx.documents),
		UniqueSources:  len(sources),
		Sources:        sources,
		IndexLoaded:    idx.model != nil,
	}
}

// bm25Model holds the corpus statistics for Okapi BM25 scoring.
type bm25Model struct {
	k1      float64
	b       float64
	idf     map[string]float64
	freqs   []map[string]int
	lengths []int
	avgdl   float64
}

// newBM25Model computes corpus statistics over tokenized documents.
// Terms appearing in more than half the corpus get a negative raw
// IDF; those are floored at epsilon times the average IDF so common
// terms still contribute a small positive weight.
func newBM25Model(tokenized [][]string, k1, b, epsilon float64) *bm25Model {
	m := &bm25Model{
		k1:      k1,
		b:       b,
		idf:     make(map[string]float64),
		freqs:   make([]map[string]int, len(tokenized)),
		lengths: make([]int, len(tokenized)),
	}

	docFreq := make(map[string]int)
	totalLen := 0
	for i, tokens := range tokenized {
		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		m.freqs[i] = freq
		m.lengths[i] = len(tokens)
		totalLen += len(tokens)
		for tok := range freq {
			docFreq[tok]++
		}
	}
	m.avgdl = float64(totalLen) / float64(len(tokenized))

	n := float64(len(tokenized))
	idfSum := 0.0
	var negative []string
	for term, df := range docFreq {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		m.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	averageIDF := idfSum / float64(len(m.idf))
	eps := epsilon * averageIDF
	for _, term := range negative {
		m.idf[term] = eps
	}

	return m
}

// scores computes the BM25 score of every document against the query
// tokens. Unknown terms contribute zero.
func (m *bm25Model) scores(queryTokens []string) []float64 {
	scores := make([]float64, len(m.freqs))
	for _, q := range queryTokens {
		idf, ok := m.idf[q]
		if !ok {
			continue
		}
		for i, freq := range m.freqs {
			f := float64(freq[q])
			if f == 0 {
				continue
			}
			denom := f + m.k1*(1-m.b+m.b*float64(m.lengths[i])/m.avgdl)
			scores[i] += idf * (f * (m.k1 + 1) / denom)
		}
	}
	return scores
}
