// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	CatalogPath string
	GenAI       GenAIConfig
	Safety      SafetyConfig
	RateLimit   RateLimitConfig
	SSE         SSEConfig
	Presence    PresenceConfig
}

// GenAIConfig configures the generation backend client.
type GenAIConfig struct {
	BaseURL   string
	APIKey    string
	ChatModel string // structured / grounded chat turns
	FastModel string // classification and vault normalization
	Timeout   time.Duration
}

// SafetyConfig controls moderation and the escalation policy. Thresholds
// are deliberately configuration, not constants: how many flags trigger a
// lockout and for how long is an operator decision.
type SafetyConfig struct {
	LockoutThreshold int           // flags within FlagWindow that trigger a lockout
	FlagWindow       time.Duration // counting window for escalation
	LockoutDuration  time.Duration
	KeywordSeedPath  string // YAML seed list, loaded when the keyword table is empty
}

// RateLimitConfig throttles chat generation requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the chat streaming response.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// PresenceConfig tunes the typing/presence channel.
type PresenceConfig struct {
	TypingTTL time.Duration // typing indicator expiry without a refresh
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/smepro.db"),
		CatalogPath: getEnv("SME_CATALOG_PATH", "./configs/catalog.yaml"),
		GenAI: GenAIConfig{
			BaseURL:   getEnv("GENAI_BASE_URL", "https://generativelanguage.googleapis.com"),
			APIKey:    getEnv("GENAI_API_KEY", ""),
			ChatModel: getEnv("GENAI_CHAT_MODEL", "gemini-2.5-pro"),
			FastModel: getEnv("GENAI_FAST_MODEL", "gemini-2.5-flash"),
			Timeout:   getEnvDuration("GENAI_TIMEOUT", 2*time.Minute),
		},
		Safety: SafetyConfig{
			LockoutThreshold: getEnvInt("SAFETY_LOCKOUT_THRESHOLD", 3),
			FlagWindow:       getEnvDuration("SAFETY_FLAG_WINDOW", time.Hour),
			LockoutDuration:  getEnvDuration("SAFETY_LOCKOUT_DURATION", 5*time.Minute),
			KeywordSeedPath:  getEnv("SAFETY_KEYWORD_SEED", "./configs/keywords.yaml"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("SSE_MAX_REQUEST_BODY", 1<<20)),
		},
		Presence: PresenceConfig{
			TypingTTL: getEnvDuration("PRESENCE_TYPING_TTL", 6*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Safety.LockoutThreshold <= 0 {
		return fmt.Errorf("SAFETY_LOCKOUT_THRESHOLD must be > 0")
	}
	if c.Safety.LockoutDuration <= 0 {
		return fmt.Errorf("SAFETY_LOCKOUT_DURATION must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("SSE_MAX_REQUEST_BODY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether a generation credential is configured.
// Features that depend on the AI backend short-circuit when it is not.
func (c *Config) AIEnabled() bool {
	return c.GenAI.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
