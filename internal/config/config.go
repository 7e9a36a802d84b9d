package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the MedTimeline server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Cache    CacheConfig
	AI       AIConfig
	Timeline TimelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
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

type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type CacheConfig struct {
	Path       string
	TTL        time.Duration
	MaxEntries int
}

type AIConfig struct {
	Provider    string
	CallTimeout time.Duration
	OpenAI      OpenAIConfig
	Anthropic   AnthropicConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type TimelineConfig struct {
	BatchSize           int
	TruncationThreshold int
	TokenBudget         int
	SessionWindow       time.Duration
}

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("MEDTIMELINE_PORT", 8080),
			Env:  envString("MEDTIMELINE_ENV", "development"),
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
		Gateway: GatewayConfig{
			BaseURL: os.Getenv("GATEWAY_BASE_URL"),
			Token:   os.Getenv("GATEWAY_TOKEN"),
			Timeout: envDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			Path:       envString("CACHE_DB_PATH", "medtimeline-cache.db"),
			TTL:        time.Duration(envInt("CACHE_TTL_DAYS", 30)) * 24 * time.Hour,
			MaxEntries: envInt("CACHE_MAX_ENTRIES", 10_000),
		},
		AI: AIConfig{
			Provider:    os.Getenv("AI_PROVIDER"),
			CallTimeout: envDurationSecs("AI_CALL_TIMEOUT_SECS", 30*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Timeline: TimelineConfig{
			BatchSize:           envInt("TIMELINE_BATCH_SIZE", 5),
			TruncationThreshold: envInt("TIMELINE_TRUNCATION_THRESHOLD", 1_000),
			TokenBudget:         envInt("TIMELINE_TOKEN_BUDGET", 900_000),
			SessionWindow:       envDuration("USAGE_SESSION_WINDOW", 5*time.Minute),
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

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Gateway.BaseURL, "http://") && !strings.HasPrefix(c.Gateway.BaseURL, "https://") {
		return fmt.Errorf("GATEWAY_BASE_URL must start with http:// or https://, got %q", c.Gateway.BaseURL)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, anthropic; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.Timeline.BatchSize <= 0 {
		return fmt.Errorf("TIMELINE_BATCH_SIZE must be positive, got %d", c.Timeline.BatchSize)
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
