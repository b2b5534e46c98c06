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

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const DefaultSystemPrompt = "You are a sarcastic parrot. Your response should be under 70 words."

type Config struct {
	Mode Mode

	Port string

	LLMProvider  string // "vertex", "gemini", "openai" or "mock"
	ModelName    string
	ModelTimeout time.Duration

	GCPProjectID string
	GCPLocation  string
	GeminiAPIKey string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	StorageBackend string // "memory" o "firestore"

	TrimMaxTokens int
	SystemPrompt  string

	CORSOrigins []string

	LogLevel  string
	LogPretty bool
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads a .env file when present, then all env vars, and builds the config.
// Variables already set in the environment take precedence over .env. A
// missing .env is fine; an unreadable or malformed one is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only.
func FromEnv() (*Config, error) {
	modeStr := getEnv("PARROT_MODE", "local")
	var mode Mode
	switch modeStr {
	case "gcp":
		mode = ModeGCP
	default:
		mode = ModeLocal
	}

	defaultProvider := "mock"
	if mode == ModeGCP {
		defaultProvider = "vertex"
	}

	trimMax, err := getIntEnv("PARROT_TRIM_MAX_TOKENS", 1000)
	if err != nil {
		return nil, err
	}
	timeout, err := getDurationEnv("PARROT_MODEL_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode: mode,

		Port: getEnv("PARROT_PORT", "8000"),

		LLMProvider:  strings.ToLower(getEnv("PARROT_LLM_PROVIDER", defaultProvider)),
		ModelName:    getEnv("PARROT_MODEL_NAME", ""),
		ModelTimeout: timeout,

		GCPProjectID: getEnv("PARROT_GCP_PROJECT", ""),
		GCPLocation:  getEnv("PARROT_GCP_LOCATION", "us-central1"),
		GeminiAPIKey: getEnv("GOOGLE_API_KEY", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("PARROT_OPENAI_BASE_URL", ""),

		StorageBackend: getEnv("PARROT_STORAGE_BACKEND", "memory"),

		TrimMaxTokens: trimMax,
		SystemPrompt:  getEnv("PARROT_SYSTEM_PROMPT", DefaultSystemPrompt),

		CORSOrigins: splitList(getEnv("PARROT_CORS_ORIGINS", "http://localhost:3000")),

		LogLevel:  getEnv("PARROT_LOG_LEVEL", "info"),
		LogPretty: getBoolEnv("PARROT_LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations that would only fail later at startup.
func (c *Config) Validate() error {
	if c.TrimMaxTokens <= 0 {
		return fmt.Errorf("PARROT_TRIM_MAX_TOKENS must be positive, got %d", c.TrimMaxTokens)
	}

	switch c.LLMProvider {
	case "vertex":
		if c.GCPProjectID == "" {
			return fmt.Errorf("PARROT_GCP_PROJECT must be set for the vertex provider")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY must be set for the gemini provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the openai provider")
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported PARROT_LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.StorageBackend {
	case "memory":
	case "firestore":
		if c.GCPProjectID == "" {
			return fmt.Errorf("PARROT_GCP_PROJECT is required for Firestore storage backend")
		}
	default:
		return fmt.Errorf("unsupported PARROT_STORAGE_BACKEND %q", c.StorageBackend)
	}

	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return fmt.Errorf("PARROT_GCP_PROJECT must be set in gcp mode")
	}

	return nil
}
