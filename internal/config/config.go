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

// Supported text generation providers.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama-3.3-70b-versatile"
	DefaultGeminiModel = "gemini-2.0-flash"
)

// Config holds the configuration for the application.
type Config struct {
	DatabasePath string
	LogLevel     string
	LogPretty    bool

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string

	// Planner
	DefaultPreferences string
	DefaultAllergens   string
	MaxAttempts        int
	PoolIncrement      int
	AttemptTimeout     time.Duration
	Concurrency        int

	// Optional. When empty plans are locked in-process only.
	RedisURL string

	MetricsRetentionDays int

	// Telegram Config
	TelegramBotToken     string
	TelegramWebhookURL   string
	TelegramAllowUserIDs []int64
	TelegramAdminUserID  int64
	ListenAddr           string
}

// LoadDotEnv loads variables from the given files (default .env) into the
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		DatabasePath:       getEnv("DB_PATH", "data/menu-planner.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LLMProvider:        strings.ToLower(getEnv("LLM_PROVIDER", ProviderGroq)),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnv("GEMINI_MODEL", DefaultGeminiModel),
		GroqAPIKey:         os.Getenv("GROQ_API_KEY"),
		GroqModel:          getEnv("GROQ_MODEL", DefaultGroqModel),
		GroqBaseURL:        getEnv("GROQ_BASE_URL", DefaultGroqBaseURL),
		DefaultPreferences: os.Getenv("PLANNER_DEFAULT_PREFERENCES"),
		DefaultAllergens:   os.Getenv("PLANNER_DEFAULT_ALLERGENS"),
		RedisURL:           os.Getenv("REDIS_URL"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
	}

	var err error
	if cfg.LogPretty, err = getBool("LOG_PRETTY", false); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getInt("PLANNER_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.PoolIncrement, err = getInt("PLANNER_POOL_INCREMENT", 10); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = getInt("PLANNER_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.MetricsRetentionDays, err = getInt("METRICS_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.AttemptTimeout, err = getDuration("PLANNER_ATTEMPT_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.TelegramAdminUserID, err = getInt64("TELEGRAM_ADMIN_USER_ID", 0); err != nil {
		return nil, err
	}
	if cfg.TelegramAllowUserIDs, err = getInt64List("TELEGRAM_ALLOW_USER_IDS"); err != nil {
		return nil, err
	}

	switch cfg.LLMProvider {
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("PLANNER_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getInt64List(key string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
