// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// データバックエンドの種別
const (
	// BackendREST はホスト型バックエンドの認証APIとデータAPIを使用する。
	BackendREST = "rest"
	// BackendPostgres は認証にホスト型バックエンド、データにPostgreSQL直接接続を使用する。
	BackendPostgres = "postgres"
	// BackendMemory はプロセス内の実装を使用する。オフライン開発用。
	BackendMemory = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	DataBackend     string
	SupabaseURL     string
	SupabaseAnonKey string
	DatabaseURL     string
	MemoryJWTSecret string

	// Session
	SessionFile     string
	RefreshInterval time.Duration
	RefreshMargin   time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort      string
	ShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。必須項目はDATA_BACKENDによって異なる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DataBackend = strings.ToLower(getEnvString("DATA_BACKEND", BackendREST))
	switch cfg.DataBackend {
	case BackendREST, BackendPostgres, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid DATA_BACKEND: %q (allowed: %s, %s, %s)",
			cfg.DataBackend, BackendREST, BackendPostgres, BackendMemory)
	}

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MemoryJWTSecret = os.Getenv("MEMORY_JWT_SECRET")

	// Required fields
	var missing []string

	if cfg.DataBackend != BackendMemory {
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if cfg.SupabaseAnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	}
	if cfg.DataBackend == BackendPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionFile = getEnvString("SESSION_FILE", defaultSessionFile())
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 30*time.Second)
	cfg.RefreshMargin = getEnvDuration("REFRESH_MARGIN", 60*time.Second)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// defaultSessionFile はセッションファイルの既定パスを返す。
// ユーザー設定ディレクトリが取得できない場合はカレントディレクトリに置く。
func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".heartrisk", "session.json")
	}
	return filepath.Join(dir, "heartrisk", "session.json")
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
	if err != nil || i <= 0 {
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
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
