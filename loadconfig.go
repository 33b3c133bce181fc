package lexgraph

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment overrides, e.g. LEXGRAPH_NEO4J_PASSWORD.
const EnvPrefix = "LEXGRAPH"

// LoadConfig layers DefaultConfig, an optional config file (YAML, TOML or
// JSON, by extension) and LEXGRAPH_* environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	defaults, err := DefaultConfig().YAML()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.fillAPIKeys()
	return cfg, nil
}

// fillAPIKeys falls back to the well-known provider key variables.
func (c *Config) fillAPIKeys() {
	if c.Chat.APIKey == "" {
		c.Chat.APIKey = providerKey(c.Chat.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider)
	}
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "xai":
		return os.Getenv("XAI_API_KEY")
	}
	return ""
}
