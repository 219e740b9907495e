package providers

import (
	"fmt"
	"strings"
	"time"
)

// ClientConfig selects and configures an inference or embedding backend.
// It mirrors the inference and embedding config sections with resolved keys.
type ClientConfig struct {
	Provider  string // "ollama" (default), "openai", "mock"
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	RateLimit int // Requests per minute, OpenAI-compatible only
}

func (c ClientConfig) provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return OllamaName
	}
	return p
}

// NewLLMClient creates an LLM client based on provider type.
func NewLLMClient(cfg ClientConfig) (LLMClient, error) {
	switch cfg.provider() {
	case OllamaName:
		return NewOllamaClient(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}), nil
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RateLimit:    cfg.RateLimit,
			Timeout:      cfg.Timeout,
		}), nil
	case MockClientName:
		return NewMockClient("{}"), nil
	default:
		return nil, fmt.Errorf("unknown inference provider: %s", cfg.Provider)
	}
}

// NewEmbedder creates an embedder based on provider type.
func NewEmbedder(cfg ClientConfig) (Embedder, error) {
	switch cfg.provider() {
	case OllamaName:
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}), nil
	case OpenAIName:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RateLimit:    cfg.RateLimit,
			Timeout:      cfg.Timeout,
		}), nil
	case MockClientName:
		return NewMockEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
