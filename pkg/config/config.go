// Package config holds environment-driven settings for the LureGuard gateway.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider defines the backend LLM service used for text brand extraction
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"       // No LLM, favicon-only detection
	ProviderOllama     LLMProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter LLMProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       LLMProvider = "groq"       // Groq (high-speed inference)
	ProviderOpenAI     LLMProvider = "openai"     // Direct OpenAI API
	ProviderCustom     LLMProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// Config holds global settings for the LureGuard gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr  string // HTTP listen address (default: ":8021")
	DatabaseURL string // Postgres DSN for brand registry + detection rows (empty = in-memory)
	RedisURL    string // Redis URL for the result cache (empty = cache disabled)

	// === Result Cache ===
	CacheTTL time.Duration // TTL for cached verdicts (default: 24h)

	// === Brand Detection ===
	FaviconThreshold float64 // Cosine similarity floor for a favicon brand hit (default: 0.999)
	FaviconSeedDir   string  // Directory of YAML favicon seed files (default: "seeds/favicons")
	FaviconEmbedURL  string  // Image embedding service endpoint (empty = favicon stage disabled)
	WhitelistTTL     time.Duration // Refresh interval for the cached official-domain list (default: 5m)

	// === CRP Classifier ===
	CRPModelPath string // Local path to the credential-page ONNX model (empty = recorder disabled)

	// === LLM Provider Configuration ===
	// These settings control the text brand extractor.
	LLMProvider LLMProvider // Which LLM service to use: "ollama", "openrouter", "openai", "custom", "none"
	LLMAPIKey   string      // API key for cloud providers (env: LUREGUARD_LLM_API_KEY or provider-specific)
	LLMModel    string      // Model identifier (e.g., "meta-llama/llama-3.3-70b-instruct:free")
	LLMBaseURL  string      // Custom base URL for self-hosted or custom providers

	// === Screenshot Service ===
	ScreenshotURL string // External render service endpoint (empty = screenshots disabled)

	// === Concurrency ===
	GateLimit int // Max concurrent model-stage runs (default: 10)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		// Core
		ListenAddr:  GetEnv("LUREGUARD_LISTEN_ADDR", ":8021"),
		DatabaseURL: GetEnv("DATABASE_URL", ""),
		RedisURL:    GetEnv("REDIS_URL", ""),

		// Result cache
		CacheTTL: time.Duration(GetEnvInt("LUREGUARD_CACHE_TTL_SECONDS", 86400)) * time.Second,

		// Brand detection
		FaviconThreshold: GetEnvFloat("LUREGUARD_FAVICON_THRESHOLD", 0.999),
		FaviconSeedDir:   GetEnv("LUREGUARD_FAVICON_SEED_DIR", "seeds/favicons"),
		FaviconEmbedURL:  GetEnv("LUREGUARD_FAVICON_EMBED_URL", ""),
		WhitelistTTL:     time.Duration(GetEnvInt("LUREGUARD_WHITELIST_TTL_SECONDS", 300)) * time.Second,

		// CRP classifier
		CRPModelPath: GetEnv("LUREGUARD_CRP_MODEL_PATH", ""),

		// LLM provider - auto-detected from available keys when unset
		LLMProvider: detectLLMProvider(),
		LLMAPIKey:   GetEnv("LUREGUARD_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:    GetEnv("LUREGUARD_LLM_MODEL", "meta-llama/llama-3.3-70b-instruct:free"),
		LLMBaseURL:  GetEnv("LUREGUARD_LLM_BASE_URL", ""),

		// Screenshot service
		ScreenshotURL: GetEnv("LUREGUARD_SCREENSHOT_URL", ""),

		// Concurrency
		GateLimit: clampInt(GetEnvInt("LUREGUARD_GATE_LIMIT", 10), 1, 1000),
	}
}

// NewLocalConfig creates a Config optimized for local-only operation (no cloud calls).
// Use this for development or air-gapped deployments.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMModel = "qwen2.5:7b"
	cfg.LLMAPIKey = ""
	return cfg
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func detectLLMProvider() LLMProvider {
	// Check explicit provider setting first
	if p := os.Getenv("LUREGUARD_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	// Auto-detect based on available keys
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("LUREGUARD_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	// Default to Ollama (local) if no cloud keys found
	return ProviderOllama
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
