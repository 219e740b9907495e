package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OllamaName    = "ollama"
	OllamaBaseURL = "http://localhost:11434"
)

// OllamaConfig holds configuration for the Ollama clients.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// ollamaHTTP is the transport shared by the chat client and the embedder.
type ollamaHTTP struct {
	baseURL string
	client  *http.Client
}

func newOllamaHTTP(cfg OllamaConfig) ollamaHTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return ollamaHTTP{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}
}

// post sends one JSON request. Retries are left to the caller.
func (h ollamaHTTP) post(ctx context.Context, path string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Message:    "Ollama rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			respBody = []byte(apiErr.Error)
		}
		return &StatusError{Provider: OllamaName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// OllamaClient implements LLMClient against Ollama's native /api/chat.
type OllamaClient struct {
	ollamaHTTP
	defaultModel string
}

// NewOllamaClient creates a new Ollama chat client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	return &OllamaClient{
		ollamaHTTP:   newOllamaHTTP(cfg),
		defaultModel: cfg.DefaultModel,
	}
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string {
	return OllamaName
}

// Chat sends a non-streaming chat request.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}

	oReq := ollamaChatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopK:        req.TopK,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			NumCtx:      req.ContextLength,
			Seed:        req.Seed,
		},
	}
	if req.ResponseFormat != nil && len(req.ResponseFormat.Schema) > 0 {
		oReq.Format = req.ResponseFormat.Schema
	}

	var oResp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", &oReq, &oResp); err != nil {
		return nil, err
	}

	return &ChatResult{
		Content:          oResp.Message.Content,
		PromptTokens:     oResp.PromptEvalCount,
		CompletionTokens: oResp.EvalCount,
		TotalTokens:      oResp.PromptEvalCount + oResp.EvalCount,
		ExecutionTime:    time.Since(start),
		Provider:         OllamaName,
		ModelUsed:        oResp.Model,
		RequestID:        requestID,
	}, nil
}

// OllamaEmbedder implements Embedder against Ollama's /api/embed.
type OllamaEmbedder struct {
	ollamaHTTP
	model string
}

// NewOllamaEmbedder creates an embedder for the given model.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		ollamaHTTP: newOllamaHTTP(cfg),
		model:      cfg.DefaultModel,
	}
}

// Name returns the embedder identifier.
func (e *OllamaEmbedder) Name() string {
	return OllamaName
}

// Embed embeds texts in one batched request.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := e.post(ctx, "/api/embed", &ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Ollama API types

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	Seed        *int    `json:"seed,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaError struct {
	Error string `json:"error"`
}

var (
	_ LLMClient = (*OllamaClient)(nil)
	_ Embedder  = (*OllamaEmbedder)(nil)
)
