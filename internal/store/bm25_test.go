package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/blob"
	"github.com/auditkit/guideline-rag/internal/chunk"
)

func newTestBM25(t *testing.T) (*BM25Index, *blob.MemStore) {
	t.Helper()
	mem := blob.NewMemStore()
	return NewBM25Index(mem, "", 0, 0, nil), mem
}

func guidelineCorpus() []chunk.Chunk {
	return []chunk.Chunk{
		testChunk("a1", "Harassment and targeted abuse are prohibited on the platform", "https://example.com/harassment"),
		testChunk("b2", "Spam and repetitive promotional content will be removed", "https://example.com/spam"),
		testChunk("c3", "Graphic violence requires a content warning before posting", "https://example.com/violence"),
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "lowercase and whitespace split only",
			input:    "Harassment IS Prohibited",
			expected: []string{"harassment", "is", "prohibited"},
		},
		{
			name:     "punctuation stays attached",
			input:    "prohibited. Really",
			expected: []string{"prohibited.", "really"},
		},
		{
			name:     "empty",
			input:    "  ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.input)
			if len(tt.expected) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBM25_SearchRanksMatchingDocumentFirst(t *testing.T) {
	idx, _ := newTestBM25(t)
	require.NoError(t, idx.Build(t.Context(), guidelineCorpus()))

	results := idx.Search("harassment abuse", 10)

	require.NotEmpty(t, results)
	assert.Equal(t, "a1", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, "https://example.com/harassment", results[0].Metadata.SourceURL)
}

func TestBM25_SearchExcludesZeroScores(t *testing.T) {
	idx, _ := newTestBM25(t)
	require.NoError(t, idx.Build(t.Context(), guidelineCorpus()))

	// No corpus document contains this term
	results := idx.Search("cryptocurrency", 10)
	assert.Empty(t, results)

	// A term in one document must not drag in the others
	results = idx.Search("spam", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "b2", results[0].ChunkID)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestBM25_ScoresDescending(t *testing.T) {
	idx, _ := newTestBM25(t)
	require.NoError(t, idx.Build(t.Context(), guidelineCorpus()))

	results := idx.Search("content warning removed", 10)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestBM25_EmptyIndexReturnsNothing(t *testing.T) {
	idx, _ := newTestBM25(t)
	assert.Empty(t, idx.Search("anything", 10))
}

func TestBM25_AddRebuildsOverFullCorpus(t *testing.T) {
	idx, _ := newTestBM25(t)
	ctx := t.Context()
	require.NoError(t, idx.Build(ctx, guidelineCorpus()))

	require.NoError(t, idx.Add(ctx, []chunk.Chunk{
		testChunk("d4", "Impersonation of other users is prohibited", "https://example.com/impersonation"),
	}))

	results := idx.Search("impersonation", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "d4", results[0].ChunkID)
	assert.Equal(t, 4, idx.Stats().TotalDocuments)
}

func TestBM25_AddReplacesExistingChunkIDs(t *testing.T) {
	idx, _ := newTestBM25(t)
	ctx := t.Context()
	require.NoError(t, idx.Build(ctx, guidelineCorpus()))

	// Re-adding the same corpus must not grow the index.
	require.NoError(t, idx.Add(ctx, guidelineCorpus()))
	assert.Equal(t, 3, idx.Stats().TotalDocuments)

	// An updated chunk replaces the old text under the same ID.
	require.NoError(t, idx.Add(ctx, []chunk.Chunk{
		testChunk("b2", "Misinformation about elections is removed", "https://example.com/spam"),
	}))

	assert.Equal(t, 3, idx.Stats().TotalDocuments)
	results := idx.Search("misinformation elections", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "b2", results[0].ChunkID)
	assert.Empty(t, idx.Search("promotional", 10))
}

func TestBM25_RemoveBySource(t *testing.T) {
	idx, _ := newTestBM25(t)
	ctx := t.Context()
	require.NoError(t, idx.Build(ctx, guidelineCorpus()))

	removed, err := idx.RemoveBySource(ctx, "https://example.com/spam")

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, idx.Search("spam", 10))
	assert.Equal(t, 2, idx.Stats().TotalDocuments)
}

func TestBM25_RemoveLastDocumentClearsModel(t *testing.T) {
	idx, _ := newTestBM25(t)
	ctx := t.Context()
	require.NoError(t, idx.Build(ctx, []chunk.Chunk{
		testChunk("a1", "only document", "https://example.com/only"),
	}))

	removed, err := idx.RemoveBySource(ctx, "https://example.com/only")

	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, idx.Stats().IndexLoaded)
	assert.Empty(t, idx.Search("only", 10))
}

func TestBM25_PersistAndReload(t *testing.T) {
	idx, mem := newTestBM25(t)
	ctx := t.Context()
	require.NoError(t, idx.Build(ctx, guidelineCorpus()))

	// A fresh index over the same blob reproduces the same scoring
	fresh := NewBM25Index(mem, "", 0, 0, nil)
	require.NoError(t, fresh.Load(ctx))

	orig := idx.Search("harassment", 10)
	reloaded := fresh.Search("harassment", 10)

	require.Equal(t, len(orig), len(reloaded))
	for i := range orig {
		assert.Equal(t, orig[i].ChunkID, reloaded[i].ChunkID)
		assert.InDelta(t, orig[i].Score, reloaded[i].Score, 1e-9)
	}
}

func TestBM25_CommonTermGetsFlooredIDF(t *testing.T) {
	// "prohibited" appears in every document: raw IDF is negative and
	// must be floored to a positive epsilon-scaled value
	corpus := []chunk.Chunk{
		testChunk("a1", "prohibited harassment targeted abuse reporting", "u1"),
		testChunk("b2", "prohibited spam promotion advertising repetition", "u2"),
		testChunk("c3", "prohibited violence graphic warning media", "u3"),
	}
	idx, _ := newTestBM25(t)
	require.NoError(t, idx.Build(t.Context(), corpus))

	results := idx.Search("prohibited", 10)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestBM25_TopKBoundsResults(t *testing.T) {
	idx, _ := newTestBM25(t)
	require.NoError(t, idx.Build(t.Context(), []chunk.Chunk{
		testChunk("a1", "rule one applies", "u1"),
		testChunk("b2", "rule two applies", "u2"),
		testChunk("c3", "rule three applies", "u3"),
	}))

	results := idx.Search("rule", 2)
	assert.Len(t, results, 2)
}
