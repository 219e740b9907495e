// Package llmcall provides LLM call recording and querying for traceability.
// Every inference call made during a run can be recorded with the prompt
// hash, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/sieve/internal/providers"
)

// Stage names the step of row resolution a call belongs to.
const (
	StageInitial = "initial"
	StageRepair  = "repair"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id" yaml:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	LatencyMs int       `json:"latency_ms" yaml:"latency_ms"`

	// Context references
	RunName  string `json:"run_name,omitempty" yaml:"run_name,omitempty"`
	TaskName string `json:"task_name,omitempty" yaml:"task_name,omitempty"`
	RunIndex int    `json:"run_index" yaml:"run_index"`
	RowID    int    `json:"row_id" yaml:"row_id"`
	Stage    string `json:"stage" yaml:"stage"`

	// Prompt traceability
	PromptHash    string `json:"prompt_hash" yaml:"prompt_hash"`
	PromptVersion string `json:"prompt_version,omitempty" yaml:"prompt_version,omitempty"`

	// Model info
	Provider      string   `json:"provider" yaml:"provider"`
	Model         string   `json:"model" yaml:"model"`
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ContextLength int      `json:"context_length,omitempty" yaml:"context_length,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`

	// Response
	Response string `json:"response" yaml:"response"`

	// Status
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	RunName  string
	TaskName string
	RunIndex int
	RowID    int
	Stage    string

	PromptHash    string
	PromptVersion string

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature   *float64
	Model         string
	ContextLength int
	Latency       time.Duration
}

// FromChatResult creates a Call from a ChatResult. A nil result with a
// non-nil callErr records a failed call.
func FromChatResult(result *providers.ChatResult, callErr error, opts RecordOptions) *Call {
	if result == nil && callErr == nil {
		return nil
	}

	call := &Call{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		LatencyMs:     int(opts.Latency.Milliseconds()),
		RunName:       opts.RunName,
		TaskName:      opts.TaskName,
		RunIndex:      opts.RunIndex,
		RowID:         opts.RowID,
		Stage:         opts.Stage,
		PromptHash:    opts.PromptHash,
		PromptVersion: opts.PromptVersion,
		Model:         opts.Model,
		Temperature:   opts.Temperature,
		ContextLength: opts.ContextLength,
		Success:       callErr == nil,
	}
	if result != nil {
		call.Provider = result.Provider
		if result.ModelUsed != "" {
			call.Model = result.ModelUsed
		}
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
		if call.LatencyMs == 0 {
			call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		}
	}
	if callErr != nil {
		call.Error = callErr.Error()
	}
	return call
}
