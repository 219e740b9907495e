// Package resolver turns one prompt into one validated record: it calls the
// inference service, recovers the JSON answer, validates it against the
// compiled schema and, when validation fails, asks the model once to repair
// its answer.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/sieve/internal/fieldspec"
	"github.com/jackzampolin/sieve/internal/llmcall"
	"github.com/jackzampolin/sieve/internal/prompts"
	"github.com/jackzampolin/sieve/internal/providers"
)

// State is a step of row resolution.
type State string

const (
	StatePending     State = "pending"
	StateCalled      State = "called"
	StateRepairRetry State = "repair_retry"
	StateParsed      State = "parsed"
	StateFailed      State = "failed"
)

// Status is the outcome recorded for a row.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusSchemaFailure       Status = "schema_failure"
	StatusInferenceFailure    Status = "inference_failure"
	StatusSegmentationFailure Status = "segmentation_failure"
)

// Record is the result for one input row.
type Record struct {
	RowID     int            `json:"row_id"`
	Status    Status         `json:"status"`
	Extracted map[string]any `json:"extracted,omitempty"`
	RawOutput string         `json:"raw_output,omitempty"`
	Carried   map[string]any `json:"carried,omitempty"`
	Error     string         `json:"error,omitempty"`
	// Attempts counts generation rounds: 1 for the initial answer, 2 when a
	// repair was requested.
	Attempts int `json:"attempts"`
}

// InferenceCallError reports an inference call that kept failing after
// bounded retries.
type InferenceCallError struct {
	Attempts int
	Err      error
}

func (e *InferenceCallError) Error() string {
	return fmt.Sprintf("inference failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *InferenceCallError) Unwrap() error { return e.Err }

// CallRecorder receives every inference call made while resolving rows.
// llmcall.Recorder implements it.
type CallRecorder interface {
	Record(result *providers.ChatResult, callErr error, opts llmcall.RecordOptions)
}

// Options configures generation and retry behaviour.
type Options struct {
	Model       string
	Temperature float64
	TopK        int
	TopP        float64
	// NumPredict is the output token budget, already adapted for reasoning.
	NumPredict int
	Seed       *int
	// Reasoning models emit free text before the answer; no generation
	// constraint is sent and the answer is extracted from the text.
	Reasoning bool

	// MaxRetries is the number of retries after a failed inference call.
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration

	Recorder CallRecorder
	// CallLabels is copied into every call record.
	CallLabels llmcall.RecordOptions
}

// Resolver resolves rows against one compiled schema.
type Resolver struct {
	client providers.LLMClient
	schema *fieldspec.Schema
	format *providers.ResponseFormat
	opts   Options
	logger *slog.Logger
}

// New creates a resolver. The schema's JSON Schema rendering is computed
// once and sent as the generation constraint unless reasoning is enabled.
func New(client providers.LLMClient, schema *fieldspec.Schema, opts Options, logger *slog.Logger) (*Resolver, error) {
	if client == nil {
		return nil, errors.New("resolver: client is required")
	}
	if schema == nil {
		return nil, errors.New("resolver: schema is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}

	r := &Resolver{client: client, schema: schema, opts: opts, logger: logger}
	if !opts.Reasoning {
		raw, err := schema.JSONSchemaBytes()
		if err != nil {
			return nil, fmt.Errorf("resolver: render generation constraint: %w", err)
		}
		r.format = &providers.ResponseFormat{Name: "extraction", Schema: raw}
	}
	return r, nil
}

// Row is one unit of work.
type Row struct {
	ID            int
	Prompt        prompts.Prompt
	ContextLength int
	Carried       map[string]any
}

// Resolve runs the state machine for one row. Row-level failures are
// reported in the returned Record; the error is non-nil only when ctx is
// done, in which case no record is produced.
func (r *Resolver) Resolve(ctx context.Context, row Row) (*Record, error) {
	rec := &Record{RowID: row.ID, Carried: row.Carried}
	state := StatePending
	log := r.logger.With("row_id", row.ID)

	prompt := row.Prompt
	stage := llmcall.StageInitial
	var lastIssue error

	for round := 1; round <= 2; round++ {
		rec.Attempts = round
		raw, err := r.call(ctx, prompt, row, stage)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			state = StateFailed
			rec.Status = StatusInferenceFailure
			rec.Error = err.Error()
			log.Warn("inference failed", "state", state, "stage", stage, "error", err)
			return rec, nil
		}
		state = StateCalled
		rec.RawOutput = raw

		extracted, issue := r.parse(raw)
		if issue == nil {
			state = StateParsed
			rec.Status = StatusSuccess
			rec.Extracted = extracted
			rec.Error = ""
			log.Debug("row resolved", "state", state, "attempts", rec.Attempts)
			return rec, nil
		}
		lastIssue = issue

		if round == 2 {
			break
		}
		state = StateRepairRetry
		log.Debug("answer rejected, requesting repair", "state", state, "issue", issue)
		prompt, err = prompts.Repair(prompt, raw, issue, r.opts.Reasoning)
		if err != nil {
			return nil, err
		}
		stage = llmcall.StageRepair
	}

	state = StateFailed
	rec.Status = StatusSchemaFailure
	rec.Error = lastIssue.Error()
	log.Warn("answer failed validation after repair", "state", state, "error", lastIssue)
	return rec, nil
}

// parse recovers and validates the answer object.
func (r *Resolver) parse(raw string) (map[string]any, error) {
	var obj map[string]any
	var err error
	if r.opts.Reasoning {
		obj, err = ExtractJSON(raw)
	} else {
		obj, err = ParseJSON(raw)
	}
	if err != nil {
		if errors.Is(err, ErrNoJSON) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return r.schema.Validate(obj)
}

// call sends one generation request, retrying transient failures with
// exponential backoff.
func (r *Resolver) call(ctx context.Context, prompt prompts.Prompt, row Row, stage string) (string, error) {
	msgs := prompt.Messages()
	req := &providers.ChatRequest{
		Messages:       make([]providers.Message, len(msgs)),
		Model:          r.opts.Model,
		Temperature:    r.opts.Temperature,
		TopK:           r.opts.TopK,
		TopP:           r.opts.TopP,
		MaxTokens:      r.opts.NumPredict,
		ContextLength:  row.ContextLength,
		Seed:           r.opts.Seed,
		ResponseFormat: r.format,
		RequestID:      uuid.New().String(),
	}
	for i, m := range msgs {
		req.Messages[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	labels := r.opts.CallLabels
	labels.RowID = row.ID
	labels.Stage = stage
	labels.PromptHash = prompt.Hash()
	labels.Model = r.opts.Model
	labels.ContextLength = row.ContextLength
	temp := r.opts.Temperature
	labels.Temperature = &temp

	attempts := 0
	result, err := retry.DoWithData(
		func() (*providers.ChatResult, error) {
			attempts++
			start := time.Now()
			res, err := r.client.Chat(ctx, req)
			if r.opts.Recorder != nil && ctx.Err() == nil {
				callLabels := labels
				callLabels.Latency = time.Since(start)
				r.opts.Recorder.Record(res, err, callLabels)
			}
			if err != nil && (ctx.Err() != nil || !providers.IsRetryable(err)) {
				return nil, retry.Unrecoverable(err)
			}
			return res, err
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.opts.MaxRetries+1)),
		retry.Delay(r.opts.RetryDelay),
		retry.MaxDelay(r.opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("inference call failed, retrying",
				"row_id", row.ID, "stage", stage, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &InferenceCallError{Attempts: attempts, Err: err}
	}
	if result == nil {
		return "", &InferenceCallError{Attempts: attempts, Err: errors.New("empty response")}
	}
	return result.Content, nil
}
