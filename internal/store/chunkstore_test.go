package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/blob"
	"github.com/auditkit/guideline-rag/internal/chunk"
)

func testChunk(id, text, source string) chunk.Chunk {
	return chunk.Chunk{
		ID:        id,
		Text:      text,
		SourceURL: source,
		DocTitle:  "Guidelines",
		Section:   "Rules",
		CharCount: len(text),
	}
}

func TestChunkStore_SaveAndLoadRoundTrip(t *testing.T) {
	mem := blob.NewMemStore()
	cs := NewChunkStore(mem, "", nil)
	ctx := t.Context()

	chunks := []chunk.Chunk{
		testChunk("a1", "first", "https://example.com/1"),
		testChunk("b2", "second", "https://example.com/2"),
	}
	require.NoError(t, cs.Save(ctx, chunks))

	// A fresh store over the same blob sees the persisted data
	fresh := NewChunkStore(mem, "", nil)
	require.NoError(t, fresh.Load(ctx, false))

	got, ok := fresh.Get(ctx, "a1")
	require.True(t, ok)
	assert.Equal(t, "first", got.Text)
}

func TestChunkStore_LoadMissingBlobStartsEmpty(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)

	require.NoError(t, cs.Load(t.Context(), false))
	assert.Equal(t, 0, cs.Stats(t.Context()).TotalChunks)
}

func TestChunkStore_GetMany_PreservesOrderAndSkipsMissing(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)
	ctx := t.Context()
	require.NoError(t, cs.Save(ctx, []chunk.Chunk{
		testChunk("a1", "A", "u"),
		testChunk("b2", "B", "u"),
		testChunk("c3", "C", "u"),
	}))

	got := cs.GetMany(ctx, []string{"c3", "missing", "a1"})

	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
}

func TestChunkStore_Add_MergesLastWriteWins(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)
	ctx := t.Context()
	require.NoError(t, cs.Save(ctx, []chunk.Chunk{testChunk("a1", "old", "u")}))

	require.NoError(t, cs.Add(ctx, []chunk.Chunk{
		testChunk("a1", "new", "u"),
		testChunk("b2", "other", "u"),
	}))

	got, ok := cs.Get(ctx, "a1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Text)
	assert.Equal(t, 2, cs.Stats(ctx).TotalChunks)
}

func TestChunkStore_DeleteBySource(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)
	ctx := t.Context()
	require.NoError(t, cs.Save(ctx, []chunk.Chunk{
		testChunk("a1", "A", "https://example.com/keep"),
		testChunk("b2", "B", "https://example.com/drop"),
		testChunk("c3", "C", "https://example.com/drop"),
	}))

	removed, err := cs.DeleteBySource(ctx, "https://example.com/drop")

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, cs.GetMany(ctx, []string{"b2", "c3"}))
	_, ok := cs.Get(ctx, "a1")
	assert.True(t, ok)
}

func TestChunkStore_DeleteBySource_NoMatchesIsZero(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)
	ctx := t.Context()
	require.NoError(t, cs.Save(ctx, []chunk.Chunk{testChunk("a1", "A", "u")}))

	removed, err := cs.DeleteBySource(ctx, "https://example.com/absent")

	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestChunkStore_ForceReloadSeesExternalWrites(t *testing.T) {
	mem := blob.NewMemStore()
	ctx := t.Context()

	first := NewChunkStore(mem, "", nil)
	require.NoError(t, first.Save(ctx, []chunk.Chunk{testChunk("a1", "A", "u")}))

	// Another writer replaces the persisted collection behind our back
	second := NewChunkStore(mem, "", nil)
	require.NoError(t, second.Save(ctx, []chunk.Chunk{testChunk("b2", "B", "u")}))

	// Warm cache still serves the old view until forced
	_, ok := first.Get(ctx, "a1")
	assert.True(t, ok)

	require.NoError(t, first.Load(ctx, true))
	_, ok = first.Get(ctx, "a1")
	assert.False(t, ok)
	_, ok = first.Get(ctx, "b2")
	assert.True(t, ok)
}

func TestChunkStore_Stats(t *testing.T) {
	cs := NewChunkStore(blob.NewMemStore(), "", nil)
	ctx := t.Context()
	require.NoError(t, cs.Save(ctx, []chunk.Chunk{
		testChunk("a1", "A", "https://example.com/1"),
		testChunk("b2", "B", "https://example.com/1"),
		testChunk("c3", "C", "https://example.com/2"),
	}))

	stats := cs.Stats(ctx)

	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.UniqueSources)
	assert.Equal(t, 2, stats.Sources["https://example.com/1"])
	assert.True(t, stats.CacheLoaded)
}

func TestChunkStore_CorruptBlobFailsLoad(t *testing.T) {
	mem := blob.NewMemStore()
	require.NoError(t, mem.Put(t.Context(), DefaultChunksKey, []byte("not json")))

	cs := NewChunkStore(mem, "", nil)
	err := cs.Load(t.Context(), false)

	assert.Error(t, err)
}
