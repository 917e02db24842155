package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string

	// CORS
	CORSAllowedOrigin string

	// MyAnimeList API
	MALAPIBaseURL  string
	MALClientID    string
	MALAPIInterval time.Duration
	MALMaxPages    int
	MALMaxRetries  int

	// Mangacollec
	MangacollecBaseURL string

	// Source
	SourceTimeout time.Duration
	SourceMaxSize int64
	// OutboundAllowPrivate は内部ネットワーク宛ての外向き通信を許可する（ローカル開発用）
	OutboundAllowPrivate bool

	// LLM
	LLMProvider        string
	GeminiAPIKey       string
	GeminiModel        string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	LLMSearchGrounding bool

	// Resolver
	ResolverConcurrency int
	ResolverWindowDelay time.Duration
	ResolverMaxAttempts int
	ResolverCallTimeout time.Duration

	// Matching
	MatchingConfigPath string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または生成AIの設定に矛盾がある場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.MALAPIBaseURL = strings.TrimRight(getEnvString("MAL_API_BASE_URL", "https://api.myanimelist.net/v2"), "/")
	cfg.MALClientID = getEnvString("MAL_CLIENT_ID", "")
	cfg.MALAPIInterval = getEnvDuration("MAL_API_INTERVAL", time.Second)
	cfg.MALMaxPages = getEnvInt("MAL_MAX_PAGES", 50)
	cfg.MALMaxRetries = getEnvInt("MAL_MAX_RETRIES", 2)
	cfg.MangacollecBaseURL = strings.TrimRight(getEnvString("MANGACOLLEC_BASE_URL", "https://www.mangacollec.com"), "/")
	cfg.SourceTimeout = getEnvDuration("SOURCE_TIMEOUT", 15*time.Second)
	cfg.SourceMaxSize = getEnvInt64("SOURCE_MAX_SIZE", 10485760)
	cfg.OutboundAllowPrivate = getEnvBool("OUTBOUND_ALLOW_PRIVATE", false)
	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", "none"))
	cfg.GeminiAPIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = strings.TrimRight(getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.LLMSearchGrounding = getEnvBool("LLM_SEARCH_GROUNDING", false)
	cfg.ResolverConcurrency = getEnvInt("RESOLVER_CONCURRENCY", 2)
	cfg.ResolverWindowDelay = getEnvDuration("RESOLVER_WINDOW_DELAY", time.Second)
	cfg.ResolverMaxAttempts = getEnvInt("RESOLVER_MAX_ATTEMPTS", 3)
	cfg.ResolverCallTimeout = getEnvDuration("RESOLVER_CALL_TIMEOUT", 30*time.Second)
	cfg.MatchingConfigPath = getEnvString("MATCHING_CONFIG_PATH", "")

	switch cfg.LLMProvider {
	case "none":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %q", cfg.LLMProvider)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
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
