// Package config provides configuration for the MCP server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	WSPort   int    // External WebSocket port
	HTTPPort int    // Internal HTTP port for /health
	WSPath   string // WebSocket endpoint path

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Context store
	StoreBackend string // memory, sqlite or badger
	SQLiteDSN    string

	// Model backend
	ModelBackend   string // mock, openai or gemini
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	GeminiAPIKey   string
	BackendTimeout time.Duration

	// Session behaviour
	DefaultModelID      string
	StrictContextUpdate bool

	// Query policy
	MaxQueryTokens  int // 0 disables the limit
	QueryPolicyFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		WSPort:              getEnvInt("WS_PORT", 3000),
		HTTPPort:            getEnvInt("HTTP_PORT", 3001),
		WSPath:              getEnv("WS_PATH", "/ws"),
		PingInterval:        time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:        time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:         time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:      int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		StoreBackend:        getEnv("STORE_BACKEND", "memory"),
		SQLiteDSN:           getEnv("SQLITE_DSN", ""),
		ModelBackend:        getEnv("MODEL_BACKEND", "mock"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "http://localhost:4000"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		BackendTimeout:      time.Duration(getEnvInt("BACKEND_TIMEOUT_MS", 30000)) * time.Millisecond,
		DefaultModelID:      getEnv("DEFAULT_MODEL_ID", "default-model"),
		StrictContextUpdate: getEnvBool("STRICT_CONTEXT_UPDATE", false),
		MaxQueryTokens:      getEnvInt("MAX_QUERY_TOKENS", 0),
		QueryPolicyFile:     getEnv("QUERY_POLICY_FILE", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}
