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
	DatabaseURL string

	// OAuth
	OAuthProvider     string // discord | google
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	OAuthAuthURL      string // 空ならプロバイダーの既定値
	OAuthTokenURL     string
	OAuthUserInfoURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitPost    int

	// Moderation
	DefaultGuildSlug           string
	ModerationDeleteAny        bool
	ReactionsRequireMembership bool

	// Seed
	SeedFile        string
	SeedFakeMembers int
	SeedRandomSeed  int64

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string, dst *string) {
		*dst = os.Getenv(key)
		if *dst == "" {
			missing = append(missing, key)
		}
	}

	required("DATABASE_URL", &cfg.DatabaseURL)
	required("OAUTH_CLIENT_ID", &cfg.OAuthClientID)
	required("OAUTH_CLIENT_SECRET", &cfg.OAuthClientSecret)
	required("OAUTH_REDIRECT_URL", &cfg.OAuthRedirectURL)
	required("BASE_URL", &cfg.BaseURL)

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OAuthProvider = strings.ToLower(getEnvString("OAUTH_PROVIDER", "discord"))
	cfg.OAuthAuthURL = getEnvString("OAUTH_AUTH_URL", "")
	cfg.OAuthTokenURL = getEnvString("OAUTH_TOKEN_URL", "")
	cfg.OAuthUserInfoURL = getEnvString("OAUTH_USERINFO_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPost = getEnvInt("RATE_LIMIT_POST", 30)
	cfg.DefaultGuildSlug = getEnvString("DEFAULT_GUILD_SLUG", "")
	cfg.ModerationDeleteAny = getEnvBool("MODERATION_DELETE_ANY", false)
	cfg.ReactionsRequireMembership = getEnvBool("REACTIONS_REQUIRE_MEMBERSHIP", false)
	cfg.SeedFile = getEnvString("SEED_FILE", "")
	cfg.SeedFakeMembers = getEnvInt("SEED_FAKE_MEMBERS", 5)
	cfg.SeedRandomSeed = getEnvInt64("SEED_RANDOM_SEED", 1)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.OAuthProvider {
	case "discord", "google":
	default:
		return nil, fmt.Errorf("unsupported OAUTH_PROVIDER: %q", cfg.OAuthProvider)
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
