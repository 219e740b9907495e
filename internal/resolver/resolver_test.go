package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/sieve/internal/fieldspec"
	"github.com/jackzampolin/sieve/internal/llmcall"
	"github.com/jackzampolin/sieve/internal/prompts"
	"github.com/jackzampolin/sieve/internal/providers"
)

const personSpec = `{"name": {"type": "str", "literals": ["Alice", "Bob"]}, "age": {"type": "int"}}`

func personSchema(t *testing.T) *fieldspec.Schema {
	t.Helper()
	spec, err := fieldspec.Parse([]byte(personSpec))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	s, err := fieldspec.Compile(spec)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return s
}

func testRow(t *testing.T, s *fieldspec.Schema, reasoning bool) Row {
	t.Helper()
	p, err := prompts.Assemble(prompts.Input{
		Description: "Extract the patient's name and age.",
		Schema:      s.Describe(),
		Text:        "Alice is 34 years old.",
		Reasoning:   reasoning,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	return Row{ID: 5, Prompt: p, ContextLength: 4096, Carried: map[string]any{"id": "r-5"}}
}

func newResolver(t *testing.T, client providers.LLMClient, opts Options) *Resolver {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	r, err := New(client, personSchema(t), opts, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []llmcall.RecordOptions
	errs  []error
}

func (f *fakeRecorder) Record(_ *providers.ChatResult, callErr error, opts llmcall.RecordOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.errs = append(f.errs, callErr)
}

func TestResolve_Success(t *testing.T) {
	client := providers.NewMockClient(`{"name": "Alice", "age": 34}`)
	r := newResolver(t, client, Options{Model: "llama3.1", Temperature: 0.1, NumPredict: 256})
	row := testRow(t, personSchema(t), false)

	rec, err := r.Resolve(context.Background(), row)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Status != StatusSuccess || rec.Attempts != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Extracted["name"] != "Alice" || rec.Extracted["age"] != int64(34) {
		t.Errorf("extracted = %#v", rec.Extracted)
	}
	if rec.Carried["id"] != "r-5" || rec.RowID != 5 {
		t.Errorf("row identity lost: %+v", rec)
	}

	reqs := client.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.ResponseFormat == nil || len(req.ResponseFormat.Schema) == 0 {
		t.Error("expected schema constraint on request")
	}
	if req.Model != "llama3.1" || req.MaxTokens != 256 || req.ContextLength != 4096 {
		t.Errorf("request params = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestResolve_ReasoningOutput(t *testing.T) {
	client := providers.NewMockClient(`thinking... {"name": "Alice", "age": 34} done`)
	r := newResolver(t, client, Options{Reasoning: true})

	rec, err := r.Resolve(context.Background(), testRow(t, personSchema(t), true))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Error)
	}
	if rec.Extracted["name"] != "Alice" || rec.Extracted["age"] != int64(34) {
		t.Errorf("extracted = %#v", rec.Extracted)
	}
	if client.Requests()[0].ResponseFormat != nil {
		t.Error("reasoning mode must not send a format constraint")
	}
}

func TestResolve_RepairSucceeds(t *testing.T) {
	client := providers.NewMockClient(
		`{"name": "Charlie", "age": 34}`,
		`{"name": "Alice", "age": 34}`,
	)
	rec := &fakeRecorder{}
	r := newResolver(t, client, Options{Recorder: rec})

	got, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Status != StatusSuccess || got.Attempts != 2 {
		t.Fatalf("record = %+v", got)
	}

	reqs := client.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	repair := reqs[1].Messages
	if len(repair) != 4 || repair[2].Role != "assistant" || !strings.Contains(repair[3].Content, "name not in {Alice, Bob}") {
		t.Errorf("repair conversation = %+v", repair)
	}

	if len(rec.calls) != 2 || rec.calls[0].Stage != llmcall.StageInitial || rec.calls[1].Stage != llmcall.StageRepair {
		t.Errorf("recorded stages = %+v", rec.calls)
	}
	if rec.calls[0].RowID != 5 || rec.calls[0].PromptHash == rec.calls[1].PromptHash {
		t.Errorf("recorded labels = %+v", rec.calls)
	}
}

func TestResolve_SchemaFailureAfterRepair(t *testing.T) {
	client := providers.NewMockClient(`{"name": "Charlie", "age": 34}`)
	r := newResolver(t, client, Options{})

	rec, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Status != StatusSchemaFailure {
		t.Fatalf("status = %s, want schema_failure", rec.Status)
	}
	if rec.Error != "name not in {Alice, Bob}" {
		t.Errorf("error = %q", rec.Error)
	}
	if rec.Attempts != 2 || client.RequestCount() != 2 {
		t.Errorf("attempts = %d, requests = %d", rec.Attempts, client.RequestCount())
	}
	if rec.RawOutput != `{"name": "Charlie", "age": 34}` {
		t.Errorf("raw output = %q", rec.RawOutput)
	}
}

func TestResolve_UnparseableOutput(t *testing.T) {
	client := providers.NewMockClient("I could not find a name.")
	r := newResolver(t, client, Options{})

	rec, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Status != StatusSchemaFailure || rec.Error == "" {
		t.Errorf("record = %+v", rec)
	}
}

func TestResolve_RetriesTransientErrors(t *testing.T) {
	client := providers.NewMockClient(`{"name": "Bob", "age": 51}`)
	client.Errors = []error{
		&providers.StatusError{Provider: "ollama", StatusCode: 503, Body: "loading model"},
		&providers.RateLimitError{Message: "slow down", StatusCode: 429},
	}
	rec := &fakeRecorder{}
	r := newResolver(t, client, Options{MaxRetries: 3, Recorder: rec})

	got, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Status != StatusSuccess || got.Extracted["name"] != "Bob" {
		t.Fatalf("record = %+v", got)
	}
	if client.RequestCount() != 3 {
		t.Errorf("requests = %d, want 3", client.RequestCount())
	}
	if len(rec.calls) != 3 || rec.errs[0] == nil || rec.errs[2] != nil {
		t.Errorf("recorded %d calls, errs = %v", len(rec.calls), rec.errs)
	}
}

func TestResolve_RetriesClientTimeout(t *testing.T) {
	client := providers.NewMockClient(`{"name": "Alice", "age": 34}`)
	// http.Client timeouts wrap context.DeadlineExceeded while the caller's
	// context is still live.
	client.Errors = []error{fmt.Errorf("ollama chat: %w", context.DeadlineExceeded)}
	r := newResolver(t, client, Options{MaxRetries: 2})

	got, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Status != StatusSuccess {
		t.Fatalf("record = %+v", got)
	}
	if client.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", client.RequestCount())
	}
}

func TestResolve_InferenceFailure(t *testing.T) {
	t.Run("non-retryable status", func(t *testing.T) {
		client := providers.NewMockClient(`{}`)
		client.Errors = []error{&providers.StatusError{Provider: "ollama", StatusCode: 400, Body: "bad request"}}
		r := newResolver(t, client, Options{MaxRetries: 3})

		rec, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if rec.Status != StatusInferenceFailure {
			t.Fatalf("status = %s", rec.Status)
		}
		if client.RequestCount() != 1 {
			t.Errorf("requests = %d, want 1", client.RequestCount())
		}
		if !strings.Contains(rec.Error, "after 1 attempt") {
			t.Errorf("error = %q", rec.Error)
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		unavailable := errors.New("connection refused")
		client := &providers.MockClient{Respond: func(*providers.ChatRequest) (string, error) {
			return "", unavailable
		}}
		r := newResolver(t, client, Options{MaxRetries: 2})

		rec, err := r.Resolve(context.Background(), testRow(t, personSchema(t), false))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if rec.Status != StatusInferenceFailure || client.RequestCount() != 3 {
			t.Errorf("status = %s, requests = %d", rec.Status, client.RequestCount())
		}
		if !strings.Contains(rec.Error, "connection refused") {
			t.Errorf("error = %q", rec.Error)
		}
	})
}

func TestResolve_Cancelled(t *testing.T) {
	client := providers.NewMockClient(`{"name": "Alice", "age": 34}`)
	client.Latency = time.Second
	rec := &fakeRecorder{}
	r := newResolver(t, client, Options{Recorder: rec})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	got, err := r.Resolve(ctx, testRow(t, personSchema(t), false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Resolve() error = %v, want deadline exceeded", err)
	}
	if got != nil {
		t.Errorf("expected no record for cancelled row, got %+v", got)
	}
	if len(rec.calls) != 0 {
		t.Errorf("cancelled call should not be recorded, got %d", len(rec.calls))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, personSchema(t), Options{}, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(providers.NewMockClient(), nil, Options{}, nil); err == nil {
		t.Error("expected error for nil schema")
	}
}

func TestExtractJSON_ManyStrayBraces(t *testing.T) {
	text := strings.Repeat("{ ", 5000) + `{"name": "Bob"} ` + strings.Repeat("{", 5000)
	got, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if got["name"] != "Bob" {
		t.Errorf("name = %v, want Bob", got["name"])
	}
	spans := braceSpans(text)
	if len(spans) != 1 || text[spans[0][0]:spans[0][1]] != `{"name": "Bob"}` {
		t.Errorf("spans = %v", spans)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "surrounded by reasoning",
			text: `thinking... {"name": "Alice", "age": 34} done`,
			want: map[string]any{"name": "Alice"},
		},
		{
			name: "braces inside strings",
			text: `Answer: {"name": "Bob {the builder}", "note": "a \" } quote"}`,
			want: map[string]any{"name": "Bob {the builder}"},
		},
		{
			name: "nested objects",
			text: `{"name": "Alice", "address": {"city": "Paris"}}`,
			want: map[string]any{"name": "Alice"},
		},
		{
			name: "last object wins",
			text: `First guess {"name": "Bob"}. On reflection: {"name": "Alice"}`,
			want: map[string]any{"name": "Alice"},
		},
		{
			name: "stray brace before answer",
			text: `I'll use set notation { maybe... {"name": "Alice"}`,
			want: map[string]any{"name": "Alice"},
		},
		{
			name: "invalid span skipped",
			text: `{"name": "Alice"} then {not json}`,
			want: map[string]any{"name": "Alice"},
		},
		{
			name:    "no object",
			text:    "The answer is Alice.",
			wantErr: true,
		},
		{
			name:    "empty",
			text:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Errorf("ExtractJSON() error = %v, want ErrNoJSON", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "plain", text: `{"name": "Alice"}`},
		{name: "whitespace", text: "\n  {\"name\": \"Alice\"}  \n"},
		{name: "fenced", text: "```json\n{\"name\": \"Alice\"}\n```"},
		{name: "trailing text", text: `{"name": "Alice"} thanks`, wantErr: true},
		{name: "array", text: `[{"name": "Alice"}]`, wantErr: true},
		{name: "empty", text: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got["name"] != "Alice" {
				t.Errorf("name = %#v", got["name"])
			}
		})
	}
}
