package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const OpenAIName = "openai"

// OpenAIConfig holds configuration for OpenAI-compatible endpoints
// (vLLM, LM Studio, llama.cpp server, Ollama's /v1, hosted APIs).
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	RateLimit    int           // Requests per minute (0 = unlimited)
	MaxRetries   int           // Retry attempts for SDK transport
	Timeout      time.Duration // HTTP timeout
	HTTPClient   *http.Client  // Optional (tests)
}

func newOpenAISDK(cfg OpenAIConfig) openai.Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the SDK requires one.
		apiKey = "sieve"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

func newLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return nil
	}
	return NewRateLimiter(rpm)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
type OpenAIClient struct {
	defaultModel string
	limiter      *RateLimiter
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		defaultModel: cfg.DefaultModel,
		limiter:      newLimiter(cfg.RateLimit),
		client:       newOpenAISDK(cfg),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Chat sends a chat completion request. TopK and ContextLength have no
// OpenAI equivalent; top_k is sent as an extra body field, which most
// local OpenAI-compatible servers honour.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
		Temperature: openai.Float(req.Temperature),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Seed != nil {
		params.Seed = openai.Int(int64(*req.Seed))
	}
	if rf := req.ResponseFormat; rf != nil && len(rf.Schema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(rf.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid response schema: %w", err)
		}
		name := rf.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
				},
			},
		}
	}

	var opts []option.RequestOption
	if req.TopK > 0 {
		opts = append(opts, option.WithJSONSet("top_k", req.TopK))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		err = mapOpenAIError(err)
		var rl *RateLimitError
		if c.limiter != nil && errors.As(err, &rl) {
			c.limiter.Record429(rl.RetryAfter)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response (model=%s, id=%s)", resp.Model, resp.ID)
	}

	return &ChatResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIName,
		ModelUsed:        resp.Model,
		RequestID:        requestID,
	}, nil
}

// OpenAIEmbedder implements Embedder via the embeddings endpoint.
type OpenAIEmbedder struct {
	model   string
	limiter *RateLimiter
	client  openai.Client
}

// NewOpenAIEmbedder creates an embedder for cfg.DefaultModel.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		model:   cfg.DefaultModel,
		limiter: newLimiter(cfg.RateLimit),
		client:  newOpenAISDK(cfg),
	}
}

// Name returns the embedder identifier.
func (e *OpenAIEmbedder) Name() string {
	return OpenAIName
}

// Embed embeds texts in one batched request. Results are reordered by the
// index the service reports.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &StatusError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}

var (
	_ LLMClient = (*OpenAIClient)(nil)
	_ Embedder  = (*OpenAIEmbedder)(nil)
)
