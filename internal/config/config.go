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

	// Auth provider
	AuthURL              string
	AuthAPIKey           string
	AuthJWTSecret        string
	AuthStorageKey       string
	AuthRefreshMargin    time.Duration
	AuthRefreshInterval  time.Duration
	AuthResetRedirectURL string

	// Sync
	SyncInterval      time.Duration
	SyncTimeout       time.Duration
	SyncMaxSize       int64
	SyncMaxConcurrent int

	// Retention
	SnapshotRetentionDays int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth int

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

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.AuthURL = required("AUTH_URL")
	cfg.AuthAPIKey = required("AUTH_API_KEY")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthJWTSecret = getEnvString("AUTH_JWT_SECRET", "")
	cfg.AuthStorageKey = getEnvString("AUTH_STORAGE_KEY", "growthdash-auth")
	cfg.AuthRefreshMargin = getEnvDuration("AUTH_REFRESH_MARGIN", 60*time.Second)
	cfg.AuthRefreshInterval = getEnvDuration("AUTH_REFRESH_INTERVAL", 30*time.Second)
	cfg.AuthResetRedirectURL = getEnvString("AUTH_RESET_REDIRECT_URL",
		strings.TrimRight(cfg.BaseURL, "/")+"/reset-password")
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncTimeout = getEnvDuration("SYNC_TIMEOUT", 10*time.Second)
	cfg.SyncMaxSize = getEnvInt64("SYNC_MAX_SIZE", 1<<20)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 10)
	cfg.SnapshotRetentionDays = getEnvInt("SNAPSHOT_RETENTION_DAYS", 400)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
