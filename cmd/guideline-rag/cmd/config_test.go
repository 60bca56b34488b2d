package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit_WritesTemplate(t *testing.T) {
	// Given: an empty config directory
	dir := t.TempDir()
	oldDir := configDir
	configDir = dir
	t.Cleanup(func() { configDir = oldDir })

	cmd := newConfigInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	// When: running config init
	err := cmd.Execute()

	// Then: the annotated template should exist
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "guideline-rag.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "rrf_constant: 60")
	assert.Contains(t, string(data), "ollama_host")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	// Given: a directory that already has a config file
	dir := t.TempDir()
	oldDir := configDir
	configDir = dir
	t.Cleanup(func() { configDir = oldDir })

	path := filepath.Join(dir, "guideline-rag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644))

	cmd := newConfigInitCmd()
	cmd.SetOut(&bytes.Buffer{})

	// When: running config init without --force
	err := cmd.Execute()

	// Then: it should refuse and leave the file untouched
	require.Error(t, err)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), ":9090")
}

func TestConfigShow_PrintsEffectiveConfig(t *testing.T) {
	// Given: a config directory with an override
	dir := t.TempDir()
	oldDir := configDir
	configDir = dir
	t.Cleanup(func() { configDir = oldDir })

	path := filepath.Join(dir, "guideline-rag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  top_k: 9\n"), 0o644))

	cmd := newConfigShowCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	// When: running config show
	err := cmd.Execute()

	// Then: the merged configuration should reflect the override
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "top_k: 9")
	assert.Contains(t, buf.String(), "rrf_constant: 60")
}
