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
	Port           string
	AllowedOrigins []string
	DBPath         string

	// Upstream agent API. The key is server-side only and must never be
	// serialized into any client-facing response.
	UpstreamURL     string
	UpstreamKey     string
	UpstreamTimeout time.Duration

	MaxBodySize int64

	RateLimit RateLimitConfig
	Widget    WidgetConfig

	TranscriptLog TranscriptLogConfig
}

// RateLimitConfig controls per-visitor throttling on the relay endpoint.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// WidgetConfig controls widget session behavior and animation timing.
type WidgetConfig struct {
	SuggestionRotateInterval time.Duration
	LoadingStepInterval      time.Duration
	ConversationTTL          time.Duration
}

// TranscriptLogConfig controls NDJSON transcript logging of relayed turns.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  splitOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		DBPath:          getEnv("DB_PATH", "./data/embedchat.db"),
		UpstreamURL:     getEnv("AGENT_API_URL", ""),
		UpstreamKey:     getEnv("AGENT_API_KEY", ""),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 120*time.Second),
		MaxBodySize:     int64(getEnvInt("MAX_BODY_SIZE", 1<<20)),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Widget: WidgetConfig{
			SuggestionRotateInterval: getEnvDuration("SUGGESTION_ROTATE_INTERVAL", 4*time.Second),
			LoadingStepInterval:      getEnvDuration("LOADING_STEP_INTERVAL", 300*time.Millisecond),
			ConversationTTL:          getEnvDuration("CONVERSATION_TTL", 30*time.Minute),
		},
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
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
	if c.UpstreamURL == "" {
		return fmt.Errorf("AGENT_API_URL is required")
	}
	if c.UpstreamKey == "" {
		return fmt.Errorf("AGENT_API_KEY is required")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be > 0")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("MAX_BODY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Widget.SuggestionRotateInterval <= 0 {
		return fmt.Errorf("SUGGESTION_ROTATE_INTERVAL must be > 0")
	}
	if c.Widget.LoadingStepInterval <= 0 {
		return fmt.Errorf("LOADING_STEP_INTERVAL must be > 0")
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty when transcript logging is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return strings.Contains(c.UpstreamURL, "localhost") ||
		strings.Contains(c.UpstreamURL, "127.0.0.1")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
