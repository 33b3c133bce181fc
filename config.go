package lexgraph

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/lexgraph/enrich"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/vector"
)

// Graph backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config holds all configuration for the lexgraph engine.
type Config struct {
	// DBPath is the SQLite database file. It always holds the vector
	// index and the query log, and the graph when GraphBackend is sqlite.
	// If empty, defaults to ~/.lexgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is used when DBPath is empty. Defaults to "lexgraph".
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir is "home" (~/.lexgraph/, default) or "local" (working dir).
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// CheckpointDir holds the per-act stage records. If empty, a
	// "checkpoints" directory next to the database is used.
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`

	// GraphBackend selects where the property graph lives: sqlite or neo4j.
	GraphBackend string      `json:"graph_backend" yaml:"graph_backend" mapstructure:"graph_backend"`
	Neo4j        Neo4jConfig `json:"neo4j" yaml:"neo4j" mapstructure:"neo4j"`

	// LLM providers
	Chat      llm.Config `json:"chat" yaml:"chat" mapstructure:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding" mapstructure:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" mapstructure:"embedding_dim"`

	// Concurrency is the number of acts built in parallel.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// Force rebuilds acts that already have a kg_ready checkpoint.
	Force bool `json:"force" yaml:"force" mapstructure:"force"`

	Enrich    enrich.Config    `json:"enrich" yaml:"enrich" mapstructure:"enrich"`
	Vector    vector.Config    `json:"vector" yaml:"vector" mapstructure:"vector"`
	Retrieval retrieval.Config `json:"retrieval" yaml:"retrieval" mapstructure:"retrieval"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// Neo4jConfig configures the Neo4j graph backend.
type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri" mapstructure:"uri"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	Database string `json:"database" yaml:"database" mapstructure:"database"`
}

// DefaultConfig returns a Config for local inference against Ollama.
func DefaultConfig() Config {
	return Config{
		DBName:       "lexgraph",
		StorageDir:   "home",
		GraphBackend: BackendSQLite,
		Neo4j: Neo4jConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim: 768,
		Concurrency:  4,
		Enrich: enrich.Config{
			BatchSize:     5,
			MaxCandidates: 8,
		},
		Vector: vector.Config{
			SectionBatchSize: 30,
			BatchSize:        50,
		},
		Retrieval: retrieval.DefaultConfig(),
		LogLevel:  "info",
	}
}

// Validate checks the fields New depends on.
func (c *Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	switch c.GraphBackend {
	case "", BackendSQLite:
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("%w: neo4j.uri is required for the neo4j backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown graph_backend %q", ErrInvalidConfig, c.GraphBackend)
	}
	switch c.Retrieval.LexicalMode {
	case "", retrieval.LexicalContains, retrieval.LexicalFTS:
	default:
		return fmt.Errorf("%w: unknown retrieval.lexical_mode %q", ErrInvalidConfig, c.Retrieval.LexicalMode)
	}
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat.provider is required", ErrInvalidConfig)
	}
	if c.Embedding.Provider == "" {
		return fmt.Errorf("%w: embedding.provider is required", ErrInvalidConfig)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lexgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".lexgraph", name+".db")
	}
}

func (c *Config) resolveCheckpointDir(dbPath string) string {
	if c.CheckpointDir != "" {
		return c.CheckpointDir
	}
	return filepath.Join(filepath.Dir(dbPath), "checkpoints")
}

// YAML renders the config as YAML.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding config as yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TOML renders the config as TOML with the same keys as the YAML form.
func (c Config) TOML() ([]byte, error) {
	data, err := c.YAML()
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding config tree: %w", err)
	}
	out, err := toml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encoding config as toml: %w", err)
	}
	return out, nil
}
