package config

// Config holds sieve configuration.
// Stored at: ./config.yaml or ~/.sieve/config.yaml
type Config struct {
	Inference InferenceCfg `mapstructure:"inference" yaml:"inference"`
	Embedding EmbeddingCfg `mapstructure:"embedding" yaml:"embedding"`
	Run       RunCfg       `mapstructure:"run" yaml:"run"`
	Paths     PathsCfg     `mapstructure:"paths" yaml:"paths"`
	Log       LogCfg       `mapstructure:"log" yaml:"log"`
}

// InferenceCfg configures the generation endpoint.
type InferenceCfg struct {
	Provider       string `mapstructure:"provider" yaml:"provider"` // "ollama", "openai", "mock"
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model          string `mapstructure:"model" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMS   int    `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute, 0 = unlimited
}

// EmbeddingCfg configures the embedding endpoint used to pick examples.
type EmbeddingCfg struct {
	Provider       string `mapstructure:"provider" yaml:"provider"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Model          string `mapstructure:"model" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// RunCfg holds extraction run parameters.
type RunCfg struct {
	RunName         string  `mapstructure:"run_name" yaml:"run_name"`
	NRuns           int     `mapstructure:"n_runs" yaml:"n_runs"`
	NumExamples     int     `mapstructure:"num_examples" yaml:"num_examples"`
	NumPredict      int     `mapstructure:"num_predict" yaml:"num_predict"`
	ChunkSize       int     `mapstructure:"chunk_size" yaml:"chunk_size"` // 0 = whole dataset
	Overwrite       bool    `mapstructure:"overwrite" yaml:"overwrite"`
	ReasoningModel  bool    `mapstructure:"reasoning_model" yaml:"reasoning_model"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxContextLen   string  `mapstructure:"max_context_len" yaml:"max_context_len"` // "max", "split" or a number
	Quantile        float64 `mapstructure:"quantile" yaml:"quantile"`
	TopK            int     `mapstructure:"top_k" yaml:"top_k"` // 0 = provider default
	TopP            float64 `mapstructure:"top_p" yaml:"top_p"` // 0 = provider default
	Seed            *int    `mapstructure:"seed" yaml:"seed,omitempty"`
	ModelMaxContext int     `mapstructure:"model_max_context" yaml:"model_max_context"`
	MaxInputTokens  int     `mapstructure:"max_input_tokens" yaml:"max_input_tokens"` // 0 = derived
	RecordCalls     bool    `mapstructure:"record_calls" yaml:"record_calls"`
}

// PathsCfg locates task definitions, inputs and outputs. Relative paths
// resolve against the working directory.
type PathsCfg struct {
	TaskDir    string `mapstructure:"task_dir" yaml:"task_dir"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	ExampleDir string `mapstructure:"example_dir" yaml:"example_dir"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"`
	LogDir     string `mapstructure:"log_dir" yaml:"log_dir"`
}

// LogCfg configures logging.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}
