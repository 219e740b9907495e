package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing. Responses are served in order;
// the last one repeats once the script is exhausted. A non-nil entry in
// Errors at the same position fails that call instead.
type MockClient struct {
	Latency   time.Duration
	Responses []string
	Errors    []error

	// Respond, when set, overrides the scripted responses.
	Respond func(req *ChatRequest) (string, error)

	mu       sync.Mutex
	requests []*ChatRequest
}

// NewMockClient creates a mock client answering with the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat records req and returns the next scripted response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	c.mu.Lock()
	n := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var content string
	var err error
	switch {
	case c.Respond != nil:
		content, err = c.Respond(req)
	default:
		if n < len(c.Errors) && c.Errors[n] != nil {
			err = c.Errors[n]
		} else if len(c.Responses) > 0 {
			content = c.Responses[min(n, len(c.Responses)-1)]
		}
	}
	if err != nil {
		return nil, err
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	return &ChatResult{
		Content:          content,
		PromptTokens:     promptTokens,
		CompletionTokens: len(content) / 4,
		TotalTokens:      promptTokens + len(content)/4,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        req.Model,
		RequestID:        fmt.Sprintf("mock-%d", n+1),
	}, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of the recorded requests.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// Reset clears recorded requests.
func (c *MockClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
}

// MockEmbedder is an Embedder for testing. Vectors come from Vectors when
// the text is present there, otherwise from a deterministic bag-of-words
// hash so similar texts land close together.
type MockEmbedder struct {
	Dim     int
	Vectors map[string][]float64
	Err     error

	mu    sync.Mutex
	calls int
	texts int
}

// NewMockEmbedder creates a hashing embedder with 64 dimensions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dim: 64}
}

// Name returns the embedder identifier.
func (e *MockEmbedder) Name() string {
	return MockClientName
}

// Embed returns one vector per text.
func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := e.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(t, e.Dim)
	}
	return out, nil
}

// Calls returns the number of Embed calls.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// TextsEmbedded returns the total number of texts embedded.
func (e *MockEmbedder) TextsEmbedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

func hashVector(text string, dim int) []float64 {
	if dim <= 0 {
		dim = 64
	}
	v := make([]float64, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v {
			v[i] /= norm
		}
	}
	return v
}

var (
	_ LLMClient = (*MockClient)(nil)
	_ Embedder  = (*MockEmbedder)(nil)
)
