// Package extract orchestrates an extraction run: it loads a task's data,
// sizes the model context, picks few-shot examples, resolves every row and
// checkpoints the results chunk by chunk.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/sieve/internal/examples"
	"github.com/jackzampolin/sieve/internal/providers"
	"github.com/jackzampolin/sieve/internal/resolver"
	"github.com/jackzampolin/sieve/internal/segment"
)

// Options are the parameters of a run.
type Options struct {
	RunName string
	// Runs is the number of independent repetitions (n_runs).
	Runs        int
	NumExamples int
	NumPredict  int
	ChunkSize   int
	Overwrite   bool
	Reasoning   bool

	Model       string
	Temperature float64
	TopK        int
	TopP        float64
	Seed        *int

	// MaxContextLen is "max", "split" or a fixed token count.
	MaxContextLen   string
	Quantile        float64
	ModelMaxContext int
	// MaxInputTokens bounds a single row's text. Zero derives it from
	// ModelMaxContext.
	MaxInputTokens int

	MaxRetries int
	RetryDelay time.Duration

	DataDir    string
	ExampleDir string
	OutputDir  string
}

// Validate checks that the options describe a runnable extraction.
func (o Options) Validate() error {
	if o.RunName == "" {
		return errors.New("run name is required")
	}
	if o.OutputDir == "" {
		return errors.New("output dir is required")
	}
	if o.Runs < 1 {
		return fmt.Errorf("n_runs must be at least 1, got %d", o.Runs)
	}
	if o.NumExamples < 0 {
		return fmt.Errorf("num_examples must not be negative, got %d", o.NumExamples)
	}
	if o.NumPredict <= 0 {
		return fmt.Errorf("num_predict must be positive, got %d", o.NumPredict)
	}
	if o.Quantile < 0 || o.Quantile > 1 {
		return fmt.Errorf("quantile must be within [0, 1], got %v", o.Quantile)
	}
	if _, err := segment.ParsePolicy(o.MaxContextLen); err != nil {
		return err
	}
	return nil
}

// Config configures a Runner.
type Config struct {
	Options

	Logger *slog.Logger
	Client providers.LLMClient
	// Embedder is required when NumExamples > 0.
	Embedder providers.Embedder
	// Recorder, when set, receives every inference call.
	Recorder resolver.CallRecorder
}

// Runner executes extraction runs. All run-scoped state, such as the
// example embedding cache, lives on the Runner, so independent runners can
// share a process.
type Runner struct {
	opts     Options
	policy   segment.Policy
	logger   *slog.Logger
	client   providers.LLMClient
	embedder providers.Embedder
	recorder resolver.CallRecorder

	mu         sync.Mutex
	retrievers map[string]*examples.Retriever
}

// NewRunner creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if cfg.Client == nil {
		return nil, errors.New("inference client is required")
	}
	if cfg.NumExamples > 0 && cfg.Embedder == nil {
		return nil, errors.New("an embedder is required when num_examples > 0")
	}
	policy, _ := segment.ParsePolicy(cfg.MaxContextLen)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		opts:       cfg.Options,
		policy:     policy,
		logger:     logger.With("run", cfg.RunName),
		client:     cfg.Client,
		embedder:   cfg.Embedder,
		recorder:   cfg.Recorder,
		retrievers: make(map[string]*examples.Retriever),
	}, nil
}

// retriever returns the cached retriever for an example file, loading the
// examples on first use.
func (r *Runner) retriever(path string) (*examples.Retriever, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ret, ok := r.retrievers[path]; ok {
		return ret, nil
	}
	exs, err := examples.Load(path)
	if err != nil {
		return nil, err
	}
	ret := examples.NewRetriever(r.embedder, exs, r.logger)
	r.retrievers[path] = ret
	return ret, nil
}
