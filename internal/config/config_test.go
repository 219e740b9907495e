package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/sieve/internal/providers"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Inference.Provider != "ollama" {
		t.Errorf("Inference.Provider = %q, want ollama", cfg.Inference.Provider)
	}
	if cfg.Inference.Model != "mistral-nemo" {
		t.Errorf("Inference.Model = %q", cfg.Inference.Model)
	}
	if cfg.Run.NRuns != 5 || cfg.Run.NumPredict != 512 || cfg.Run.MaxContextLen != "max" {
		t.Errorf("unexpected run defaults: %+v", cfg.Run)
	}
	if cfg.Run.Quantile != 0.8 {
		t.Errorf("Run.Quantile = %v, want 0.8", cfg.Run.Quantile)
	}
	if cfg.Run.Seed != nil {
		t.Errorf("Run.Seed = %v, want nil", *cfg.Run.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
inference:
  model: "llama3.1"
run:
  n_runs: 2
  seed: 42
  max_context_len: split
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Inference.Model != "llama3.1" {
			t.Errorf("expected llama3.1, got %s", cfg.Inference.Model)
		}
		if cfg.Run.NRuns != 2 {
			t.Errorf("expected 2 runs, got %d", cfg.Run.NRuns)
		}
		if cfg.Run.Seed == nil || *cfg.Run.Seed != 42 {
			t.Errorf("expected seed 42, got %v", cfg.Run.Seed)
		}
		// Unset keys keep their defaults
		if cfg.Run.NumPredict != 512 {
			t.Errorf("expected default num_predict, got %d", cfg.Run.NumPredict)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q, want %q", mgr.ConfigFile(), configFile)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configFile := writeConfig(t, "run:\n  n_runs: 2\n")
		t.Setenv("SIEVE_RUN_N_RUNS", "7")
		t.Setenv("SIEVE_INFERENCE_PROVIDER", "openai")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Run.NRuns != 7 {
			t.Errorf("expected 7 runs from env, got %d", cfg.Run.NRuns)
		}
		if cfg.Inference.Provider != "openai" {
			t.Errorf("expected openai from env, got %s", cfg.Inference.Provider)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		configFile := writeConfig(t, "run: [unclosed\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for malformed config")
		}
	})
}

func TestManager_Reload(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "run:\n  run_name: first\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.Viper().Set("run.run_name", "second")
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := mgr.Get().Run.RunName; got != "second" {
		t.Errorf("RunName = %q, want second", got)
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Log.Level
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, `
log:
  level: info
`)

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if got := mgr.Get().Log.Level; got != "info" {
		t.Errorf("initial value mismatch: expected info, got %s", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Log.Level)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	newContent := `
log:
  level: debug
`
	if err := os.WriteFile(configFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Log.Level; got != "debug" {
		t.Errorf("config not updated: expected debug, got %s", got)
	}
	if v := lastValue.Load(); v != "debug" {
		t.Errorf("callback received wrong value: expected debug, got %v", v)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"fixed context", func(c *Config) { c.Run.MaxContextLen = "4096" }, false},
		{"bad context policy", func(c *Config) { c.Run.MaxContextLen = "huge" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"no model", func(c *Config) { c.Inference.Model = "" }, true},
		{"zero runs", func(c *Config) { c.Run.NRuns = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ClientConfigs(t *testing.T) {
	t.Setenv("TEST_SIEVE_KEY", "sk-test")

	cfg := DefaultConfig()
	cfg.Inference.Provider = providers.OpenAIName
	cfg.Inference.APIKey = "${TEST_SIEVE_KEY}"
	cfg.Inference.TimeoutSeconds = 30
	cfg.Inference.RateLimit = 60

	inf := cfg.InferenceClientConfig()
	if inf.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want resolved sk-test", inf.APIKey)
	}
	if inf.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", inf.Timeout)
	}
	if inf.RateLimit != 60 || inf.Model != "mistral-nemo" {
		t.Errorf("unexpected inference config: %+v", inf)
	}

	emb := cfg.EmbeddingClientConfig()
	if emb.Model != "nomic-embed-text" || emb.Provider != "ollama" {
		t.Errorf("unexpected embedding config: %+v", emb)
	}
}

func TestConfig_RunOptions(t *testing.T) {
	seed := 3
	cfg := DefaultConfig()
	cfg.Run.Seed = &seed
	cfg.Run.ChunkSize = 10
	cfg.Inference.RetryDelayMS = 250

	opts := cfg.RunOptions()
	if opts.Runs != 5 || opts.ChunkSize != 10 || opts.Model != "mistral-nemo" {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.Seed == nil || *opts.Seed != 3 {
		t.Errorf("Seed = %v, want 3", opts.Seed)
	}
	if opts.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", opts.RetryDelay)
	}
	if opts.OutputDir != "output" {
		t.Errorf("OutputDir = %q", opts.OutputDir)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("default options should validate: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default config should load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Embedding.Model != "nomic-embed-text" || cfg.Run.RunName != "run" {
		t.Errorf("round trip lost defaults: %+v", cfg)
	}
}
