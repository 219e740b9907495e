package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/sieve/internal/extract"
	"github.com/jackzampolin/sieve/internal/providers"
	"github.com/jackzampolin/sieve/internal/segment"
)

// EnvPrefix prefixes environment overrides, e.g. SIEVE_RUN_N_RUNS.
const EnvPrefix = "SIEVE"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         newViper(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// newViper returns a viper instance with defaults and environment
// overrides registered.
func newViper() *viper.Viper {
	v := viper.New()
	for _, entry := range DefaultEntries() {
		v.SetDefault(entry.Key, entry.Value)
	}

	// Environment variables with SIEVE_ prefix, dots become underscores
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// seed has no default, so AutomaticEnv alone would never see it
	_ = v.BindEnv("run.seed")
	return v
}

// initViper points viper at the config file.
func (cm *Manager) initViper(cfgFile string) error {
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.sieve")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Viper exposes the underlying viper instance so commands can bind flags.
// Call Reload after binding.
func (cm *Manager) Viper() *viper.Viper {
	return cm.v
}

// ConfigFile returns the config file in use, or "" if none was found.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Reload re-reads the viper state, e.g. after flags were bound.
func (cm *Manager) Reload() error {
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// DefaultConfig returns the configuration built from DefaultEntries alone.
func DefaultConfig() *Config {
	var cfg Config
	v := viper.New()
	for _, entry := range DefaultEntries() {
		v.SetDefault(entry.Key, entry.Value)
	}
	// Defaults are static; a decode failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Log.Format)
	}
	if _, err := segment.ParsePolicy(c.Run.MaxContextLen); err != nil {
		return err
	}
	if c.Inference.Model == "" {
		return errors.New("inference.model is required")
	}
	if c.Run.NRuns < 1 {
		return fmt.Errorf("run.n_runs must be at least 1, got %d", c.Run.NRuns)
	}
	return nil
}

// InferenceClientConfig converts the inference section for
// providers.NewLLMClient, resolving ${ENV_VAR} references.
func (c *Config) InferenceClientConfig() providers.ClientConfig {
	return providers.ClientConfig{
		Provider:  c.Inference.Provider,
		BaseURL:   c.Inference.BaseURL,
		APIKey:    ResolveEnvVars(c.Inference.APIKey),
		Model:     c.Inference.Model,
		Timeout:   time.Duration(c.Inference.TimeoutSeconds) * time.Second,
		RateLimit: c.Inference.RateLimit,
	}
}

// EmbeddingClientConfig converts the embedding section for
// providers.NewEmbedder.
func (c *Config) EmbeddingClientConfig() providers.ClientConfig {
	return providers.ClientConfig{
		Provider: c.Embedding.Provider,
		BaseURL:  c.Embedding.BaseURL,
		APIKey:   ResolveEnvVars(c.Embedding.APIKey),
		Model:    c.Embedding.Model,
		Timeout:  time.Duration(c.Embedding.TimeoutSeconds) * time.Second,
	}
}

// RunOptions converts the run and paths sections to extraction options.
func (c *Config) RunOptions() extract.Options {
	return extract.Options{
		RunName:         c.Run.RunName,
		Runs:            c.Run.NRuns,
		NumExamples:     c.Run.NumExamples,
		NumPredict:      c.Run.NumPredict,
		ChunkSize:       c.Run.ChunkSize,
		Overwrite:       c.Run.Overwrite,
		Reasoning:       c.Run.ReasoningModel,
		Model:           c.Inference.Model,
		Temperature:     c.Run.Temperature,
		TopK:            c.Run.TopK,
		TopP:            c.Run.TopP,
		Seed:            c.Run.Seed,
		MaxContextLen:   c.Run.MaxContextLen,
		Quantile:        c.Run.Quantile,
		ModelMaxContext: c.Run.ModelMaxContext,
		MaxInputTokens:  c.Run.MaxInputTokens,
		MaxRetries:      c.Inference.MaxRetries,
		RetryDelay:      time.Duration(c.Inference.RetryDelayMS) * time.Millisecond,
		DataDir:         c.Paths.DataDir,
		ExampleDir:      c.Paths.ExampleDir,
		OutputDir:       c.Paths.OutputDir,
	}
}

// ParseLevel parses a log level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Sieve configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Any key can be overridden from the environment: SIEVE_RUN_N_RUNS=3

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
