package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditkit/guideline-rag/internal/config"
	"github.com/auditkit/guideline-rag/internal/retriever"
)

func memConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.Backend = "mem"
	cfg.Vector.Backend = "embedded"
	return cfg
}

func TestStatsCmd_EmptyIndex(t *testing.T) {
	// Given: an empty in-memory index
	cfg := memConfig()
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	// When: running stats
	err := runStats(t.Context(), cmd, cfg, false)

	// Then: it should report zero chunks and documents
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Chunks:        0")
	assert.Contains(t, output, "BM25 docs:     0")
}

func TestStatsCmd_JSONOutput(t *testing.T) {
	// Given: an empty in-memory index
	cfg := memConfig()
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	// When: running stats with JSON output
	err := runStats(t.Context(), cmd, cfg, true)

	// Then: it should emit a parseable stats document
	require.NoError(t, err)
	var stats retriever.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &stats))
	assert.True(t, stats.Initialized)
	assert.Equal(t, "embedded", stats.Vector.Backend)
	assert.Zero(t, stats.ChunkStore.TotalChunks)
}
