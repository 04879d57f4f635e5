package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the textpulse server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backends  BackendConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
	AI        AIConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	AllowedOrigin string
	TLSCertFile   string
	TLSKeyFile    string
}

// TLSEnabled reports whether the server should listen with HTTPS.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
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

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// BackendConfig selects where job records and the work queue live.
type BackendConfig struct {
	Store string
	Queue string
}

// UsesRedis reports whether any configured component needs a Redis connection.
func (b BackendConfig) UsesRedis() bool {
	return b.Store == BackendRedis || b.Queue == BackendRedis
}

type JobsConfig struct {
	TTL               time.Duration
	MinTextLength     int
	MaxTextLength     int
	Models            ModelCatalog
	WorkerConcurrency int
	ReaperInterval    time.Duration
}

type RateLimitConfig struct {
	AnalysisPerMinute int
	StatusPerMinute   int
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	MaxRPS           float64
	SystemPrompt     string
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
}

type VLLMConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// DefaultSystemPrompt asks for a See-Think-Do-Care marketing breakdown.
const DefaultSystemPrompt = "You are a marketing expert analyzing text according to See-Think-Do-Care. " +
	"Reply in Swedish. Provide short bullet points under each heading: See, Think, Do, and Care."

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

var validStoreBackends = map[string]bool{
	BackendRedis:    true,
	BackendPostgres: true,
	BackendMemory:   true,
}

var validQueueBackends = map[string]bool{
	BackendRedis:  true,
	BackendMemory: true,
}

// LoadDotEnv copies variables from the given .env files into the process
// environment. Missing files are skipped and variables already set win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	models, err := loadModels()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("TEXTPULSE_PORT", 3000),
			Env:           envString("TEXTPULSE_ENV", "development"),
			AllowedOrigin: envString("ALLOWED_ORIGIN", "https://localhost:3001"),
			TLSCertFile:   os.Getenv("TLS_CERT_FILE"),
			TLSKeyFile:    os.Getenv("TLS_KEY_FILE"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Backends: BackendConfig{
			Store: envString("STORE_BACKEND", BackendRedis),
			Queue: envString("QUEUE_BACKEND", BackendRedis),
		},
		Jobs: JobsConfig{
			TTL:               envDuration("JOB_TTL", time.Hour),
			MinTextLength:     envInt("TEXT_MIN_LENGTH", 50),
			MaxTextLength:     envInt("TEXT_MAX_LENGTH", envInt("TEXT_LIMIT", 1000)),
			Models:            models,
			WorkerConcurrency: envInt("WORKER_CONCURRENCY", 1),
			ReaperInterval:    envDuration("REAPER_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			AnalysisPerMinute: envInt("RATE_LIMIT_ANALYSIS_PER_MIN", 5),
			StatusPerMinute:   envInt("RATE_LIMIT_STATUS_PER_MIN", 30),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "openai"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxRPS:           envFloat("AI_MAX_RPS", 0),
			SystemPrompt:     envString("AI_SYSTEM_PROMPT", DefaultSystemPrompt),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if !validStoreBackends[c.Backends.Store] {
		return fmt.Errorf("STORE_BACKEND must be one of redis, postgres, memory; got %q", c.Backends.Store)
	}
	if !validQueueBackends[c.Backends.Queue] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, memory; got %q", c.Backends.Queue)
	}

	if c.Backends.UsesRedis() {
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when a redis backend is selected")
		}
		if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
			return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
		}
	}
	if c.Backends.Store == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive")
	}
	if c.Jobs.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive, got %s", c.Jobs.ReaperInterval)
	}
	if c.Jobs.MinTextLength < 0 || c.Jobs.MaxTextLength < c.Jobs.MinTextLength {
		return fmt.Errorf("text length bounds invalid: min %d, max %d", c.Jobs.MinTextLength, c.Jobs.MaxTextLength)
	}
	if len(c.Jobs.Models) == 0 {
		return fmt.Errorf("at least one analysis model must be configured")
	}
	if c.Jobs.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Jobs.WorkerConcurrency)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	return nil
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

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
