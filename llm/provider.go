package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface for LLM interactions. The enrichment batcher
// uses Chat; the vector index and the retrieval engine use Embed.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// Temperature is sent only when set, so an explicit zero reaches the
	// provider instead of being dropped.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds a single HTTP request. Zero means 120s.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`

	// Retries caps retry attempts after a failed request. Zero means 6;
	// negative disables retries.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty" mapstructure:"retries"`
}

// Temperature returns a pointer for ChatRequest.Temperature.
func Temperature(t float64) *float64 { return &t }

// endpoint holds the defaults for a hosted OpenAI-compatible service.
type endpoint struct {
	baseURL string
	prefix  string
	model   string
}

var endpoints = map[string]endpoint{
	"lmstudio":   {baseURL: "http://localhost:1234", prefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1"},
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "text-embedding-3-small"},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: ""},
	"custom":     {prefix: "/v1"},
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	case "ollama":
		return NewOllama(cfg), nil
	}

	ep, ok := endpoints[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ep.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = ep.model
	}
	return &compatProvider{base: newClient(cfg, ep.prefix)}, nil
}

// compatProvider serves every OpenAI-compatible endpoint.
type compatProvider struct {
	base client
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
