package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(blob.NewMemStore(), "", nil)
	require.NoError(t, r.Load(t.Context()))
	return r
}

func TestRegistry_LoadMissingStartsEmpty(t *testing.T) {
	r := newTestRegistry(t)

	urls, err := r.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, urls)

	sched, err := r.Schedule(t.Context())
	require.NoError(t, err)
	assert.True(t, sched.Enabled)
	assert.Equal(t, 24*time.Hour, time.Duration(sched.Interval))
}

func TestRegistry_AddAndPersist(t *testing.T) {
	// Given a registry with one URL added
	store := blob.NewMemStore()
	r := NewRegistry(store, "", nil)
	require.NoError(t, r.Load(t.Context()))

	entry, err := r.Add(t.Context(), "Harassment Policy", "https://g/harassment")
	require.NoError(t, err)
	assert.True(t, entry.Enabled)
	assert.Equal(t, StatusPending, entry.LastIndexStatus)
	assert.NotEmpty(t, entry.ID)

	// When a fresh registry loads from the same store
	r2 := NewRegistry(store, "", nil)
	require.NoError(t, r2.Load(t.Context()))

	// Then the entry survives the round trip
	urls, err := r2.List(t.Context())
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, entry.ID, urls[0].ID)
	assert.Equal(t, "https://g/harassment", urls[0].URL)
}

func TestRegistry_AddRejectsDuplicateURL(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Add(t.Context(), "A", "https://g/same")
	require.NoError(t, err)

	_, err = r.Add(t.Context(), "B", "https://g/same")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestRegistry_RemoveAndMissing(t *testing.T) {
	r := newTestRegistry(t)
	entry, err := r.Add(t.Context(), "A", "https://g/a")
	require.NoError(t, err)

	removed, err := r.Remove(t.Context(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.URL, removed.URL)

	_, err = r.Remove(t.Context(), entry.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRegistry_UpdateStatus(t *testing.T) {
	r := newTestRegistry(t)
	entry, err := r.Add(t.Context(), "A", "https://g/a")
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus(t.Context(), entry.ID, StatusSuccess, "", "abc123"))

	urls, err := r.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, urls[0].LastIndexStatus)
	assert.Equal(t, "abc123", urls[0].ContentHash)
	require.NotNil(t, urls[0].LastIndexedAt)

	// Failures keep the last successful hash
	require.NoError(t, r.UpdateStatus(t.Context(), entry.ID, StatusFailed, "fetch timeout", ""))
	urls, err = r.List(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, urls[0].LastIndexStatus)
	assert.Equal(t, "fetch timeout", urls[0].LastError)
	assert.Equal(t, "abc123", urls[0].ContentHash)
}

func TestRegistry_EnabledFiltersDisabled(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Add(t.Context(), "A", "https://g/a")
	require.NoError(t, err)
	_, err = r.Add(t.Context(), "B", "https://g/b")
	require.NoError(t, err)

	require.NoError(t, r.SetEnabled(t.Context(), a.ID, false))

	enabled, err := r.Enabled(t.Context())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "https://g/b", enabled[0].URL)
}

func TestRegistry_UpdateSchedule(t *testing.T) {
	r := newTestRegistry(t)

	disabled := false
	interval := 2 * time.Hour
	sched, err := r.UpdateSchedule(t.Context(), &disabled, &interval)
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	assert.Equal(t, interval, time.Duration(sched.Interval))

	bad := -time.Hour
	_, err = r.UpdateSchedule(t.Context(), nil, &bad)
	require.Error(t, err)
}

func TestRegistry_MarkRunComputesNextRun(t *testing.T) {
	r := newTestRegistry(t)
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.MarkRun(t.Context(), at))

	sched, err := r.Schedule(t.Context())
	require.NoError(t, err)
	require.NotNil(t, sched.LastRunAt)
	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, at, *sched.LastRunAt)
	assert.Equal(t, at.Add(24*time.Hour), *sched.NextRunAt)
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash("guideline text")
	b := ContentHash("guideline text")
	c := ContentHash("different text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
