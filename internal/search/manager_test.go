package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/store"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, s.err
}

func (s *stubEmbedder) Dimensions() int   { return len(s.vec) }
func (s *stubEmbedder) ModelName() string { return "stub" }

type stubVectorIndex struct {
	hits  []store.VectorHit
	err   error
	lastK int
}

func (s *stubVectorIndex) Search(_ context.Context, _ []float32, k int) ([]store.VectorHit, error) {
	s.lastK = k
	return s.hits, s.err
}

func (s *stubVectorIndex) Upsert(context.Context, []store.Vector) error { return nil }
func (s *stubVectorIndex) Delete(context.Context, []string) error       { return nil }
func (s *stubVectorIndex) Stats() store.VectorStats                     { return store.VectorStats{} }

type stubKeyword struct {
	hits  []store.BM25Result
	lastK int
}

func (s *stubKeyword) Search(_ string, topK int) []store.BM25Result {
	s.lastK = topK
	return s.hits
}

type stubResolver struct {
	chunks map[string]chunk.Chunk
}

func (s *stubResolver) GetMany(_ context.Context, ids []string) []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func testChunks(ids ...string) map[string]chunk.Chunk {
	m := make(map[string]chunk.Chunk, len(ids))
	for _, id := range ids {
		m[id] = chunk.Chunk{
			ID:        id,
			Text:      "guideline text for " + id,
			SourceURL: "https://policies.example.com/" + id,
			DocTitle:  "Community Guidelines",
			Section:   "Harassment",
		}
	}
	return m
}

func newTestManager(vec *stubVectorIndex, kw *stubKeyword, res *stubResolver) *Manager {
	return NewManager(
		&stubEmbedder{vec: []float32{1, 0, 0}},
		vec, kw, res,
		ManagerConfig{RRFConstant: 60, TopK: 2, Overfetch: 3},
		nil,
	)
}

func TestManager_SearchFormatsResults(t *testing.T) {
	// Given both indexes returning overlapping hits
	vec := &stubVectorIndex{hits: []store.VectorHit{{ID: "a"}, {ID: "b"}}}
	kw := &stubKeyword{hits: []store.BM25Result{{ChunkID: "b", Score: 5}, {ChunkID: "c", Score: 3}}}
	res := &stubResolver{chunks: testChunks("a", "b", "c")}
	m := newTestManager(vec, kw, res)

	// When searching
	results := m.Search(t.Context(), "harassment reporting", 2)

	// Then b leads (in both lists) and results are formatted
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Debug.ChunkID)
	assert.Equal(t, "Community Guidelines - Harassment", results[0].Title)
	assert.Equal(t, "guideline text for b", results[0].Snippet)
	assert.Equal(t, "https://policies.example.com/b", results[0].Link)
	assert.True(t, results[0].Debug.InVector)
	assert.True(t, results[0].Debug.InBM25)
	assert.InDelta(t, 1.0/62+1.0/61, results[0].Score, 1e-12)
}

func TestManager_OverfetchesBothIndexes(t *testing.T) {
	vec := &stubVectorIndex{}
	kw := &stubKeyword{}
	m := newTestManager(vec, kw, &stubResolver{})

	m.Search(t.Context(), "spam", 2)

	assert.Equal(t, 6, vec.lastK)
	assert.Equal(t, 6, kw.lastK)
}

func TestManager_EmbeddingFailureReturnsEmpty(t *testing.T) {
	m := NewManager(
		&stubEmbedder{err: errors.New("ollama unreachable")},
		&stubVectorIndex{}, &stubKeyword{}, &stubResolver{},
		ManagerConfig{}, nil,
	)

	results := m.Search(t.Context(), "anything", 5)

	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestManager_VectorFailureReturnsEmpty(t *testing.T) {
	vec := &stubVectorIndex{err: errors.New("index offline")}
	kw := &stubKeyword{hits: []store.BM25Result{{ChunkID: "x", Score: 1}}}
	m := newTestManager(vec, kw, &stubResolver{chunks: testChunks("x")})

	results := m.Search(t.Context(), "threats", 2)

	assert.Empty(t, results)
}

func TestManager_UnresolvableIDsAreDropped(t *testing.T) {
	// Given a fused hit whose chunk record is missing from the store
	vec := &stubVectorIndex{hits: []store.VectorHit{{ID: "ghost"}, {ID: "real"}}}
	m := newTestManager(vec, &stubKeyword{}, &stubResolver{chunks: testChunks("real")})

	results := m.Search(t.Context(), "doxxing", 2)

	require.Len(t, results, 1)
	assert.Equal(t, "real", results[0].Debug.ChunkID)
}

func TestManager_TopKTruncatesFusedList(t *testing.T) {
	vec := &stubVectorIndex{hits: []store.VectorHit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}
	m := newTestManager(vec, &stubKeyword{}, &stubResolver{chunks: testChunks("a", "b", "c", "d")})

	results := m.Search(t.Context(), "hate speech", 2)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Debug.ChunkID)
	assert.Equal(t, "b", results[1].Debug.ChunkID)
}
