package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the VisionBench server and CLI.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	Evaluation EvaluationConfig
	Images     ImageConfig
	Pricing    PricingConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	LogLevel           string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AIConfig carries vendor credentials and call policy. Which provider and model a
// run uses comes from its ModelConfig, not from here.
type AIConfig struct {
	InferenceTimeout     time.Duration
	MaxAttempts          int
	RetryInitialInterval time.Duration
	OpenAI               OpenAIConfig
	Anthropic            AnthropicConfig
	Ollama               OllamaConfig
	VLLM                 VLLMConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
}

type VLLMConfig struct {
	BaseURL string
}

// EvaluationConfig holds run defaults and the cost estimator heuristic.
type EvaluationConfig struct {
	DefaultConcurrency   int
	ExpectedOutputTokens int64
	CharsPerToken        int
}

type ImageConfig struct {
	Root        string
	HTTPTimeout time.Duration
}

type PricingConfig struct {
	CatalogPath string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("VISIONBENCH_PORT", 8080),
			Env:                envString("VISIONBENCH_ENV", "development"),
			LogLevel:           envString("LOG_LEVEL", "info"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			InferenceTimeout:     envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxAttempts:          envInt("AI_MAX_ATTEMPTS", 3),
			RetryInitialInterval: envDuration("AI_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
			},
		},
		Evaluation: EvaluationConfig{
			DefaultConcurrency:   envInt("EVAL_DEFAULT_CONCURRENCY", 3),
			ExpectedOutputTokens: int64(envInt("EVAL_EXPECTED_OUTPUT_TOKENS", 50)),
			CharsPerToken:        envInt("EVAL_CHARS_PER_TOKEN", 4),
		},
		Images: ImageConfig{
			Root:        envString("IMAGE_ROOT", "./data/images"),
			HTTPTimeout: envDuration("IMAGE_HTTP_TIMEOUT", 30*time.Second),
		},
		Pricing: PricingConfig{
			CatalogPath: os.Getenv("PRICING_CATALOG_PATH"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:     envBool("OTEL_INSECURE", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	for name, u := range map[string]string{
		"OPENAI_BASE_URL":    c.AI.OpenAI.BaseURL,
		"ANTHROPIC_BASE_URL": c.AI.Anthropic.BaseURL,
		"OLLAMA_BASE_URL":    c.AI.Ollama.BaseURL,
		"VLLM_BASE_URL":      c.AI.VLLM.BaseURL,
	} {
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if c.AI.InferenceTimeout <= 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must be positive")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1, got %d", c.AI.MaxAttempts)
	}
	if c.Evaluation.DefaultConcurrency < 1 || c.Evaluation.DefaultConcurrency > 100 {
		return fmt.Errorf("EVAL_DEFAULT_CONCURRENCY must be within 1-100, got %d", c.Evaluation.DefaultConcurrency)
	}
	if c.Evaluation.CharsPerToken < 1 {
		return fmt.Errorf("EVAL_CHARS_PER_TOKEN must be at least 1, got %d", c.Evaluation.CharsPerToken)
	}
	if c.Evaluation.ExpectedOutputTokens < 0 {
		return fmt.Errorf("EVAL_EXPECTED_OUTPUT_TOKENS must not be negative")
	}

	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
