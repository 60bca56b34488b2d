package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/blob"
)

func newTestHNSW(t *testing.T) (*HNSWIndex, *blob.MemStore) {
	t.Helper()
	mem := blob.NewMemStore()
	idx := NewHNSWIndex(mem, HNSWConfig{Dimensions: 3}, nil)
	return idx, mem
}

func TestHNSW_SearchReturnsNearestFirst(t *testing.T) {
	idx, _ := newTestHNSW(t)
	ctx := t.Context()

	require.NoError(t, idx.Upsert(ctx, []Vector{
		{ID: "x", Embedding: []float32{1, 0, 0}},
		{ID: "y", Embedding: []float32{0, 1, 0}},
		{ID: "z", Embedding: []float32{0.9, 0.1, 0}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ID)
	assert.Equal(t, "z", hits[1].ID)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
}

func TestHNSW_UpsertReplacesByID(t *testing.T) {
	idx, _ := newTestHNSW(t)
	ctx := t.Context()

	require.NoError(t, idx.Upsert(ctx, []Vector{{ID: "x", Embedding: []float32{1, 0, 0}}}))
	require.NoError(t, idx.Upsert(ctx, []Vector{{ID: "x", Embedding: []float32{0, 1, 0}}}))

	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1, "replaced ID must not appear twice")
	assert.Equal(t, "x", hits[0].ID)
	assert.InDelta(t, 0.0, float64(hits[0].Distance), 1e-5)
}

func TestHNSW_DeleteIsIdempotentAndLazy(t *testing.T) {
	idx, _ := newTestHNSW(t)
	ctx := t.Context()

	require.NoError(t, idx.Upsert(ctx, []Vector{
		{ID: "x", Embedding: []float32{1, 0, 0}},
		{ID: "y", Embedding: []float32{0, 1, 0}},
	}))

	require.NoError(t, idx.Delete(ctx, []string{"x"}))
	require.NoError(t, idx.Delete(ctx, []string{"x", "absent"}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].ID)

	stats := idx.Stats()
	assert.Equal(t, 1, stats.Orphans, "deleted node stays in graph until compaction")
}

func TestHNSW_SearchEmptyIndex(t *testing.T) {
	idx, _ := newTestHNSW(t)

	hits, err := idx.Search(t.Context(), []float32{1, 0, 0}, 5)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHNSW_DimensionMismatchRejected(t *testing.T) {
	idx, _ := newTestHNSW(t)

	err := idx.Upsert(t.Context(), []Vector{{ID: "x", Embedding: []float32{1, 0}}})
	assert.Error(t, err)

	_, err = idx.Search(t.Context(), []float32{1, 0}, 5)
	assert.Error(t, err)
}

func TestHNSW_PersistAndReload(t *testing.T) {
	idx, mem := newTestHNSW(t)
	ctx := t.Context()

	vectors := make([]Vector, 0, 10)
	for i := 0; i < 10; i++ {
		vectors = append(vectors, Vector{
			ID:        fmt.Sprintf("chunk-%d", i),
			Embedding: []float32{float32(i), 1, 0},
		})
	}
	require.NoError(t, idx.Upsert(ctx, vectors))

	fresh := NewHNSWIndex(mem, HNSWConfig{Dimensions: 3}, nil)
	require.NoError(t, fresh.Load(ctx))

	origHits, err := idx.Search(ctx, []float32{5, 1, 0}, 3)
	require.NoError(t, err)
	freshHits, err := fresh.Search(ctx, []float32{5, 1, 0}, 3)
	require.NoError(t, err)

	require.Equal(t, len(origHits), len(freshHits))
	for i := range origHits {
		assert.Equal(t, origHits[i].ID, freshHits[i].ID)
	}
}

func TestHNSW_LoadMissingBlobsStartsEmpty(t *testing.T) {
	idx, _ := newTestHNSW(t)

	require.NoError(t, idx.Load(t.Context()))
	assert.Equal(t, 0, idx.Stats().Nodes)
}
