package config

// Entry is one default configuration value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the default configuration entries. They are
// registered as viper defaults and listed by `sieve config defaults`.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Inference
		// ===================
		{
			Key:         "inference.provider",
			Value:       "ollama",
			Description: "Inference backend: ollama, openai (any OpenAI-compatible endpoint) or mock",
		},
		{
			Key:         "inference.base_url",
			Value:       "http://localhost:11434",
			Description: "Base URL of the inference service",
		},
		{
			Key:         "inference.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "API key for OpenAI-compatible endpoints (uses environment variable)",
		},
		{
			Key:         "inference.model",
			Value:       "mistral-nemo",
			Description: "Model used for extraction",
		},
		{
			Key:         "inference.timeout_seconds",
			Value:       600,
			Description: "HTTP timeout in seconds for one generation request",
		},
		{
			Key:         "inference.max_retries",
			Value:       3,
			Description: "Retries after a failed inference call before the row fails",
		},
		{
			Key:         "inference.retry_delay_ms",
			Value:       1000,
			Description: "Initial backoff between inference retries in milliseconds",
		},
		{
			Key:         "inference.rate_limit",
			Value:       0,
			Description: "Requests per minute for remote endpoints (0 disables limiting)",
		},

		// ===================
		// Embedding
		// ===================
		{
			Key:         "embedding.provider",
			Value:       "ollama",
			Description: "Embedding backend: ollama, openai or mock",
		},
		{
			Key:         "embedding.base_url",
			Value:       "http://localhost:11434",
			Description: "Base URL of the embedding service",
		},
		{
			Key:         "embedding.api_key",
			Value:       "${OPENAI_API_KEY}",
			Description: "API key for OpenAI-compatible embedding endpoints",
		},
		{
			Key:         "embedding.model",
			Value:       "nomic-embed-text",
			Description: "Model used to embed examples and inputs",
		},
		{
			Key:         "embedding.timeout_seconds",
			Value:       120,
			Description: "HTTP timeout in seconds for one embedding request",
		},

		// ===================
		// Run
		// ===================
		{
			Key:         "run.run_name",
			Value:       "run",
			Description: "Name of the run; results go to <output_dir>/<run_name>",
		},
		{
			Key:         "run.n_runs",
			Value:       5,
			Description: "Number of independent repetitions of the task",
		},
		{
			Key:         "run.num_examples",
			Value:       0,
			Description: "Few-shot examples per prompt (0 disables example selection)",
		},
		{
			Key:         "run.num_predict",
			Value:       512,
			Description: "Maximum output tokens per answer",
		},
		{
			Key:         "run.chunk_size",
			Value:       0,
			Description: "Rows per checkpointed chunk (0 processes the dataset as one chunk)",
		},
		{
			Key:         "run.overwrite",
			Value:       false,
			Description: "Discard existing results instead of resuming",
		},
		{
			Key:         "run.reasoning_model",
			Value:       false,
			Description: "Model reasons in free text before answering",
		},
		{
			Key:         "run.temperature",
			Value:       0.0,
			Description: "Sampling temperature",
		},
		{
			Key:         "run.max_context_len",
			Value:       "max",
			Description: "Context sizing: max, split or a fixed token count",
		},
		{
			Key:         "run.quantile",
			Value:       0.8,
			Description: "Token-count quantile separating short from long rows under split",
		},
		{
			Key:         "run.top_k",
			Value:       0,
			Description: "Top-k sampling (0 uses the model default)",
		},
		{
			Key:         "run.top_p",
			Value:       0.0,
			Description: "Top-p sampling (0 uses the model default)",
		},
		{
			Key:         "run.model_max_context",
			Value:       131072,
			Description: "Context capacity of the model; computed lengths are capped here",
		},
		{
			Key:         "run.max_input_tokens",
			Value:       0,
			Description: "Largest single input in tokens (0 derives it from model_max_context)",
		},
		{
			Key:         "run.record_calls",
			Value:       false,
			Description: "Record every inference call in the home directory call log",
		},

		// ===================
		// Paths
		// ===================
		{
			Key:         "paths.task_dir",
			Value:       "tasks",
			Description: "Directory holding Task<NNN>_<name> files and parsers/",
		},
		{
			Key:         "paths.data_dir",
			Value:       "data",
			Description: "Directory datasets are resolved against",
		},
		{
			Key:         "paths.example_dir",
			Value:       "examples",
			Description: "Directory example files are resolved against",
		},
		{
			Key:         "paths.output_dir",
			Value:       "output",
			Description: "Directory results are written to",
		},
		{
			Key:         "paths.log_dir",
			Value:       "output",
			Description: "Directory for the sieve.log file (empty disables file logging)",
		},

		// ===================
		// Logging
		// ===================
		{
			Key:         "log.level",
			Value:       "info",
			Description: "Log level: debug, info, warn, error",
		},
		{
			Key:         "log.format",
			Value:       "text",
			Description: "Log format: text or json",
		},
	}
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}
