package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface for chat/completion requests against an
// inference service.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "ollama").
	Name() string
}

// Embedder turns texts into fixed-length vectors. Implementations return one
// vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat carries a JSON Schema used as a generation constraint.
type ResponseFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature   float64 `json:"temperature"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	ContextLength int     `json:"context_length,omitempty"`
	Seed          *int    `json:"seed,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content string `json:"content"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	RequestID string `json:"request_id"`
}
