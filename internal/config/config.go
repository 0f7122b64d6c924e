package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backend selectors for history blobs.
const (
	BlobBackendFile  = "file"
	BlobBackendRedis = "redis"
)

// Config is the process-wide configuration, loaded once at startup and passed
// into component constructors. It is never mutated after Load.
type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level
	GameVersion string

	// LLM provider settings
	LLMProvider     string
	AnthropicAPIKey string
	ModelName       string
	PromptsPath     string

	// History blob storage
	BlobBackend     string
	DataPath        string
	RedisURL        string
	MaxSegmentBytes int64

	// Relational store
	MySQLDSN string

	// Generation tuning
	SummaryTargetWords int
	GenerateRetries    int
	GenerateRetryDelay time.Duration
	StorageRetries     int
	StorageRetryDelay  time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is folded in first, for development.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		GameVersion: getEnv("GAME_VERSION", "dev"),

		LLMProvider:     getEnv("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ModelName:       getEnv("MODEL_NAME", "claude-3-haiku-20240307"),
		PromptsPath:     getEnv("PROMPTS_PATH", "./prompts"),

		BlobBackend: getEnv("BLOB_BACKEND", BlobBackendFile),
		DataPath:    getEnv("FILE_SAVE_PATH", "./data/games"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),

		MySQLDSN: os.Getenv("MYSQL_DSN"),

		GenerateRetries:    3,
		GenerateRetryDelay: 3 * time.Second,
		StorageRetries:     3,
		StorageRetryDelay:  2 * time.Second,
	}

	var err error
	cfg.MaxSegmentBytes, err = getEnvInt64("MAX_FILE_SIZE", 50*1024)
	if err != nil {
		return nil, err
	}

	words, err := getEnvInt64("SUMMARY_TARGET_WORDS", 50)
	if err != nil {
		return nil, err
	}
	cfg.SummaryTargetWords = int(words)

	switch cfg.BlobBackend {
	case BlobBackendFile, BlobBackendRedis:
	default:
		return nil, fmt.Errorf("invalid BLOB_BACKEND %q (want %q or %q)",
			cfg.BlobBackend, BlobBackendFile, BlobBackendRedis)
	}

	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
