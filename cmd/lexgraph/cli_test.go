package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestConfigShow(t *testing.T) {
	t.Setenv("LEXGRAPH_GRAPH_BACKEND", "neo4j")

	out := run(t, "config", "show")
	assert.Contains(t, out, "graph_backend: neo4j")
	assert.Contains(t, out, "embedding_dim: 768")

	out = run(t, "config", "show", "--format", "toml", "--backend", "sqlite")
	assert.Contains(t, out, "graph_backend = ")
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "[neo4j]")
}

func TestManifestScan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1851"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "1851", "12.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "1851", "readme.txt"), []byte("x"), 0o644))

	out := run(t, "manifest", root)
	assert.Contains(t, out, "act_id,year,seq,file_path,act_title,status")
	assert.Contains(t, out, "1851_12,1851,12,")
}

func TestNewlyBuilt(t *testing.T) {
	report := &lexgraph.BuildReport{Acts: []lexgraph.ActResult{
		{ActID: "1851_12"},
		{ActID: "1860_45", Replaced: true},
		{ActID: "1867_3", Skipped: true},
	}}
	assert.Equal(t, []string{"1851_12"}, newlyBuilt(report))
	assert.Empty(t, newlyBuilt(&lexgraph.BuildReport{}))
}
