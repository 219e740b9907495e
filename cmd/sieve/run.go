package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jackzampolin/sieve/internal/config"
	"github.com/jackzampolin/sieve/internal/extract"
	"github.com/jackzampolin/sieve/internal/llmcall"
	"github.com/jackzampolin/sieve/internal/providers"
	"github.com/jackzampolin/sieve/internal/resolver"
	"github.com/jackzampolin/sieve/internal/svcctx"
	"github.com/jackzampolin/sieve/internal/task"
)

var (
	runTaskID int
	runSeed   int
)

// runFlagKeys maps run command flags to config keys. Flags only override
// the config when set on the command line.
var runFlagKeys = map[string]string{
	"run-name":          "run.run_name",
	"n-runs":            "run.n_runs",
	"num-examples":      "run.num_examples",
	"num-predict":       "run.num_predict",
	"chunk-size":        "run.chunk_size",
	"overwrite":         "run.overwrite",
	"reasoning-model":   "run.reasoning_model",
	"temperature":       "run.temperature",
	"max-context-len":   "run.max_context_len",
	"quantile":          "run.quantile",
	"top-k":             "run.top_k",
	"top-p":             "run.top_p",
	"model-max-context": "run.model_max_context",
	"max-input-tokens":  "run.max_input_tokens",
	"record-calls":      "run.record_calls",
	"model":             "inference.model",
	"provider":          "inference.provider",
	"base-url":          "inference.base_url",
	"task-dir":          "paths.task_dir",
	"data-dir":          "paths.data_dir",
	"example-dir":       "paths.example_dir",
	"output-dir":        "paths.output_dir",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an extraction task",
	Long: `Run an extraction task n_runs times and write one result file per run.

Each run writes to <output_dir>/<run_name>/<task>-run<i>/. Completed chunks
are kept across invocations: rerunning the same command resumes an
interrupted run and leaves finished runs untouched. Use --overwrite to
start over.

Examples:
  sieve run --task-id 1
  sieve run --task-id 1 --n-runs 1 --chunk-size 100
  sieve run --task-id 2 --num-examples 3 --max-context-len split`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := svcctx.ServicesFrom(ctx)
		mgr := s.ConfigManager

		if err := bindRunFlags(mgr, cmd.Flags()); err != nil {
			return err
		}
		cfg := mgr.Get()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, closeLog, err := runLogger(s, cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		t, err := task.LoadByID(cfg.Paths.TaskDir, runTaskID)
		if err != nil {
			return err
		}

		client, err := providers.NewLLMClient(cfg.InferenceClientConfig())
		if err != nil {
			return err
		}
		var embedder providers.Embedder
		if cfg.Run.NumExamples > 0 {
			if embedder, err = providers.NewEmbedder(cfg.EmbeddingClientConfig()); err != nil {
				return err
			}
		}

		var recorder resolver.CallRecorder
		if cfg.Run.RecordCalls {
			if err := s.Home.EnsureExists(); err != nil {
				return err
			}
			store, err := llmcall.OpenStore(s.Home.CallLogPath())
			if err != nil {
				return err
			}
			defer store.Close()
			recorder = llmcall.NewRecorder(store, logger)
		}

		runner, err := extract.NewRunner(extract.Config{
			Options:  cfg.RunOptions(),
			Logger:   logger,
			Client:   client,
			Embedder: embedder,
			Recorder: recorder,
		})
		if err != nil {
			return err
		}

		summary, err := runner.Run(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("run interrupted; rerun the same command to resume")
			}
			return err
		}
		if failed := summary.Failed(); failed > 0 {
			logger.Warn("some rows did not resolve", "failed", failed)
		}
		return printer.Print(summary)
	},
}

// bindRunFlags applies explicitly set flags on top of file and environment
// configuration.
func bindRunFlags(mgr *config.Manager, flags *pflag.FlagSet) error {
	v := mgr.Viper()
	for name, key := range runFlagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	// seed has no default; binding it would turn an unset flag into seed 0.
	if flags.Changed("seed") {
		v.Set("run.seed", runSeed)
	}
	return mgr.Reload()
}

// runLogger extends the root logger with <log_dir>/sieve.log.
func runLogger(s *svcctx.Services, cfg *config.Config) (*slog.Logger, func(), error) {
	f, err := openLogFile(cfg.Paths.LogDir)
	if err != nil {
		return nil, nil, err
	}
	if f == nil {
		return s.Logger, func() {}, nil
	}
	w := io.MultiWriter(os.Stderr, f)
	return slog.New(newHandler(w, cfg.Log.Format, s.LogLevel)), func() { f.Close() }, nil
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runTaskID, "task-id", 0, "numeric ID of the Task<NNN>_<name> file to run")
	_ = runCmd.MarkFlagRequired("task-id")
	f.IntVar(&runSeed, "seed", 0, "sampling seed; run i uses seed+i (run.seed)")

	f.String("run-name", "", "name of the run directory (run.run_name)")
	f.Int("n-runs", 0, "number of repetitions (run.n_runs)")
	f.Int("num-examples", 0, "few-shot examples per prompt (run.num_examples)")
	f.Int("num-predict", 0, "maximum output tokens (run.num_predict)")
	f.Int("chunk-size", 0, "rows per checkpoint, 0 for one chunk (run.chunk_size)")
	f.Bool("overwrite", false, "discard existing results (run.overwrite)")
	f.Bool("reasoning-model", false, "model reasons before answering (run.reasoning_model)")
	f.Float64("temperature", 0, "sampling temperature (run.temperature)")
	f.String("max-context-len", "", "max, split or a token count (run.max_context_len)")
	f.Float64("quantile", 0, "split quantile (run.quantile)")
	f.Int("top-k", 0, "top-k sampling (run.top_k)")
	f.Float64("top-p", 0, "top-p sampling (run.top_p)")
	f.Int("model-max-context", 0, "model context capacity (run.model_max_context)")
	f.Int("max-input-tokens", 0, "largest input in tokens (run.max_input_tokens)")
	f.Bool("record-calls", false, "record inference calls in the home call log (run.record_calls)")
	f.String("model", "", "inference model (inference.model)")
	f.String("provider", "", "inference provider: ollama, openai, mock (inference.provider)")
	f.String("base-url", "", "inference base URL (inference.base_url)")
	f.String("task-dir", "", "task directory (paths.task_dir)")
	f.String("data-dir", "", "dataset directory (paths.data_dir)")
	f.String("example-dir", "", "example directory (paths.example_dir)")
	f.String("output-dir", "", "output directory (paths.output_dir)")

	rootCmd.AddCommand(runCmd)
}
