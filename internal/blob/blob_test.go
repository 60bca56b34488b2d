package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// storeUnderTest builds fs and mem stores so both backends run the
// same behavioral suite.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"fs":  fs,
		"mem": NewMemStore(),
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			require.NoError(t, store.Put(ctx, "indexes/bm25.json", []byte(`{"documents":[]}`)))

			data, err := store.Get(ctx, "indexes/bm25.json")
			require.NoError(t, err)
			assert.Equal(t, `{"documents":[]}`, string(data))

			ok, err := store.Exists(ctx, "indexes/bm25.json")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(t.Context(), "nope")

			require.Error(t, err)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStore_PutReplacesExisting(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, store.Put(ctx, "k", []byte("v1")))
			require.NoError(t, store.Put(ctx, "k", []byte("v2")))

			data, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(data))
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, store.Put(ctx, "k", []byte("v")))

			require.NoError(t, store.Delete(ctx, "k"))
			require.NoError(t, store.Delete(ctx, "k"))

			ok, err := store.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFSStore_NestedKeysCreateDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(t.Context(), "chunks/chunks.json", []byte("[]")))

	_, err = os.Stat(filepath.Join(dir, "chunks", "chunks.json"))
	assert.NoError(t, err)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(t.Context(), "../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	err = store.Put(t.Context(), "/abs/path", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Put(t.Context(), "k", []byte("abc")))

	data, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
