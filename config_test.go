package lexgraph

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.GraphBackend)
	assert.Equal(t, 10, cfg.Retrieval.MaxResults)
	assert.Equal(t, 50, cfg.Retrieval.CandidateK)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(*Config){
		"zero dim":          func(c *Config) { c.EmbeddingDim = 0 },
		"negative workers":  func(c *Config) { c.Concurrency = -1 },
		"unknown backend":   func(c *Config) { c.GraphBackend = "postgres" },
		"neo4j without uri": func(c *Config) { c.GraphBackend = BackendNeo4j; c.Neo4j.URI = "" },
		"unknown lexical":   func(c *Config) { c.Retrieval.LexicalMode = "regex" },
		"no chat provider":  func(c *Config) { c.Chat.Provider = "" },
		"no embed provider": func(c *Config) { c.Embedding.Provider = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db", cfg.resolveDBPath())

	cfg = Config{DBName: "acts", StorageDir: "local"}
	assert.Equal(t, "acts.db", cfg.resolveDBPath())

	assert.Equal(t, filepath.Join("/data", "checkpoints"), cfg.resolveCheckpointDir("/data/acts.db"))
	cfg.CheckpointDir = "/ck"
	assert.Equal(t, "/ck", cfg.resolveCheckpointDir("/data/acts.db"))
}

func TestConfigRendering(t *testing.T) {
	cfg := DefaultConfig()

	y, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "graph_backend: sqlite")
	assert.Contains(t, string(y), "lexical_mode: contains")

	tm, err := cfg.TOML()
	require.NoError(t, err)
	assert.Contains(t, string(tm), "graph_backend = ")
	assert.Contains(t, string(tm), "[retrieval]")
	assert.Contains(t, string(tm), "embedding_dim = 768")
}

func TestEnrichChatConfigRetriesOnce(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, enrichChatConfig(cfg.Chat).Retries)

	cfg.Chat.Retries = 3
	assert.Equal(t, 3, enrichChatConfig(cfg.Chat).Retries, "an explicit setting wins")
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph_backend: neo4j
embedding_dim: 1024
chat:
  provider: openai
  model: gpt-4o-mini
enrich:
  per_batch_timeout: 90s
retrieval:
  lexical_mode: fts
`), 0o644))

	t.Setenv("LEXGRAPH_NEO4J_PASSWORD", "s3cret")
	t.Setenv("LEXGRAPH_CONCURRENCY", "8")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendNeo4j, cfg.GraphBackend)
	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)
	assert.Equal(t, "sk-test", cfg.Chat.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Enrich.PerBatchTimeout)
	assert.Equal(t, "fts", cfg.Retrieval.LexicalMode)
	assert.Equal(t, "s3cret", cfg.Neo4j.Password)
	assert.Equal(t, 8, cfg.Concurrency)

	// Unset keys keep their defaults.
	assert.Equal(t, "neo4j://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 10, cfg.Retrieval.MaxResults)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
