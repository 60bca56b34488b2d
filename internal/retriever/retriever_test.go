package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/chunk"
	"github.com/auditkit/guideline-rag/internal/config"
)

const testDims = 8

// hashEmbedder derives deterministic vectors from text content so
// tests run without an embedding server. Texts containing "FAIL"
// return an error, exercising the failure-collection paths.
type hashEmbedder struct {
	calls int
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (h *hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	h.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "FAIL") {
			return nil, errors.New("embedding backend rejected input")
		}
		sum := sha256.Sum256([]byte(t))
		vec := make([]float32, testDims)
		for j := range vec {
			vec[j] = float32(sum[j]) / 255.0
		}
		out[i] = vec
	}
	return out, nil
}

func (h *hashEmbedder) Dimensions() int   { return testDims }
func (h *hashEmbedder) ModelName() string { return "hash-test" }

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.Backend = "mem"
	cfg.Vector.Backend = "embedded"
	cfg.Embedding.Dimensions = testDims
	return cfg
}

func newInitialized(t *testing.T) *Retriever {
	t.Helper()
	r := New(testConfig(), nil, WithEmbedder(&hashEmbedder{}))
	require.NoError(t, r.Initialize(t.Context()))
	return r
}

const harassmentDoc = `## Harassment

Targeted harassment of private individuals is prohibited. Repeated unwanted contact counts as harassment.

## Spam

Bulk unsolicited promotion is spam. Spam accounts are removed after review.`

func TestRetriever_InitializeIsIdempotent(t *testing.T) {
	r := New(testConfig(), nil, WithEmbedder(&hashEmbedder{}))

	require.NoError(t, r.Initialize(t.Context()))
	first := r.chunkStore

	require.NoError(t, r.Initialize(t.Context()))
	assert.Same(t, first, r.chunkStore)
}

func TestRetriever_MethodsFailFastBeforeInitialize(t *testing.T) {
	r := New(testConfig(), nil)

	_, err := r.Retrieve(t.Context(), "harassment", 5)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = r.IndexDocument(t.Context(), Document{URL: "https://x", Content: "text"})
	require.Error(t, err)

	_, err = r.DeleteDocument(t.Context(), "https://x")
	require.Error(t, err)
}

func TestRetriever_IndexThenRetrieve(t *testing.T) {
	// Given an indexed two-section guideline document
	r := newInitialized(t)

	n, err := r.IndexDocument(t.Context(), Document{
		URL:         "https://policies.example.com/conduct",
		Title:       "Community Guidelines",
		Content:     harassmentDoc,
		ContentType: chunk.ContentTypeMarkdown,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// When retrieving with a keyword from one section
	results, err := r.Retrieve(t.Context(), "targeted harassment prohibited", 5)
	require.NoError(t, err)

	// Then results come back formatted with title and link
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Title, "Community Guidelines - ")
	assert.Equal(t, "https://policies.example.com/conduct", results[0].Link)
	assert.True(t, results[0].Debug.InBM25 || results[0].Debug.InVector)
}

func TestRetriever_EmptyContentIndexesNothing(t *testing.T) {
	r := newInitialized(t)

	n, err := r.IndexDocument(t.Context(), Document{
		URL:         "https://policies.example.com/empty",
		Content:     "   \n\n  ",
		ContentType: chunk.ContentTypeMarkdown,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stats := r.Stats(t.Context())
	assert.Equal(t, 0, stats.ChunkStore.TotalChunks)
	assert.Equal(t, 0, stats.BM25.TotalDocuments)
}

func TestRetriever_DeleteDocumentRemovesEverywhere(t *testing.T) {
	// Given two indexed documents
	r := newInitialized(t)
	for _, url := range []string{"https://a.example.com/rules", "https://b.example.com/rules"} {
		_, err := r.IndexDocument(t.Context(), Document{
			URL: url, Title: "Rules", Content: harassmentDoc, ContentType: chunk.ContentTypeMarkdown,
		})
		require.NoError(t, err)
	}

	// When one document is deleted
	removed, err := r.DeleteDocument(t.Context(), "https://a.example.com/rules")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Then only the other document's chunks remain anywhere
	stats := r.Stats(t.Context())
	assert.Equal(t, 2, stats.ChunkStore.TotalChunks)
	assert.Equal(t, 2, stats.BM25.TotalDocuments)
	assert.Empty(t, r.ChunkStore().IDsBySource(t.Context(), "https://a.example.com/rules"))
}

func TestRetriever_DeleteMissingDocumentReturnsZero(t *testing.T) {
	r := newInitialized(t)

	removed, err := r.DeleteDocument(t.Context(), "https://nowhere.example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestRetriever_ReindexAllCollectsFailures(t *testing.T) {
	// Given three documents, one of which the embedder rejects
	r := newInitialized(t)
	docs := []Document{
		{URL: "https://ok1.example.com", Title: "A", Content: harassmentDoc, ContentType: chunk.ContentTypeMarkdown},
		{URL: "https://bad.example.com", Title: "B", Content: "this chunk will FAIL to embed", ContentType: chunk.ContentTypeText},
		{URL: "https://ok2.example.com", Title: "C", Content: harassmentDoc, ContentType: chunk.ContentTypeMarkdown},
	}

	// When reindexing
	stats, err := r.ReindexAll(t.Context(), docs)
	require.NoError(t, err)

	// Then the failure is recorded and the run continues
	assert.Equal(t, 3, stats.TotalDocs)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 4, stats.TotalChunks)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "https://bad.example.com", stats.Errors[0].URL)
	assert.NotEmpty(t, stats.Errors[0].Error)
}

func TestRetriever_ReindexingSameDocIsIdempotent(t *testing.T) {
	r := newInitialized(t)
	doc := Document{
		URL: "https://policies.example.com/conduct", Title: "Guidelines",
		Content: harassmentDoc, ContentType: chunk.ContentTypeMarkdown,
	}

	_, err := r.IndexDocument(t.Context(), doc)
	require.NoError(t, err)
	_, err = r.IndexDocument(t.Context(), doc)
	require.NoError(t, err)

	// Chunk IDs are content-addressed, so counts stay stable in every store
	stats := r.Stats(t.Context())
	assert.Equal(t, 2, stats.ChunkStore.TotalChunks)
	assert.Equal(t, 2, stats.BM25.TotalDocuments)
}

func TestRetriever_StatsReportsComponents(t *testing.T) {
	r := newInitialized(t)

	stats := r.Stats(t.Context())

	assert.True(t, stats.Initialized)
	assert.Equal(t, "hash-test", stats.Embedding.Model)
	assert.Equal(t, testDims, stats.Embedding.Dimensions)
	assert.Equal(t, "embedded", stats.Vector.Backend)
}
