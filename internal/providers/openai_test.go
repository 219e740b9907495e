package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "qwen2.5",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"a\":1}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, DefaultModel: "qwen2.5"})
	seed := 3
	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		TopK:      20,
		TopP:      0.8,
		MaxTokens: 256,
		Seed:      &seed,
		ResponseFormat: &ResponseFormat{
			Name:   "extraction",
			Schema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"integer"}}}`),
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != `{"a":1}` {
		t.Errorf("Content = %q", result.Content)
	}
	if result.TotalTokens != 15 || result.Provider != OpenAIName {
		t.Errorf("unexpected result: %+v", result)
	}

	if payload["model"] != "qwen2.5" {
		t.Errorf("model = %v", payload["model"])
	}
	if got, _ := payload["top_k"].(float64); got != 20 {
		t.Errorf("top_k = %v, want 20", payload["top_k"])
	}
	if got, _ := payload["seed"].(float64); got != 3 {
		t.Errorf("seed = %v, want 3", payload["seed"])
	}
	rf, ok := payload["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_schema" {
		t.Fatalf("response_format = %v", payload["response_format"])
	}
	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %v", payload["messages"])
	}
}

func TestOpenAIClient_ChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, DefaultModel: "m"})
	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("400 should not be retryable")
	}
}

func TestOpenAIClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, DefaultModel: "m", RateLimit: 600})
	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter.Seconds() != 3 {
		t.Errorf("RetryAfter = %v, want 3s", rl.RetryAfter)
	}
	if client.limiter.Status().Last429Time.IsZero() {
		t.Error("limiter should record the 429")
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL, DefaultModel: "text-embedding-3-small"})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not reordered by index: %v", vecs)
	}
}
