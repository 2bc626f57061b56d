package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/heartrisk/internal/backend"
	"github.com/hitoshi/heartrisk/internal/backend/memory"
	"github.com/hitoshi/heartrisk/internal/config"
	"github.com/hitoshi/heartrisk/internal/database"
	"github.com/hitoshi/heartrisk/internal/handler"
	"github.com/hitoshi/heartrisk/internal/metrics"
	"github.com/hitoshi/heartrisk/internal/repository"
	"github.com/hitoshi/heartrisk/internal/supabase"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// authBackend はセッションコンテナとリフレッシュワーカーが共有する認証クライアント。
type authBackend interface {
	backend.AuthClient
	RefreshIfNeeded(ctx context.Context) error
}

// backendSet はDATA_BACKENDに応じて構築された外部依存をまとめたもの。
type backendSet struct {
	auth        authBackend
	profiles    repository.ProfileRepository
	predictions repository.PredictionRepository
	health      handler.HealthChecker // DB直接接続時のみ
	db          *sql.DB
}

// Close は保持しているリソースを解放する。
func (b *backendSet) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// newBackendSet は設定に応じて認証クライアントとリポジトリを構築する。
func newBackendSet(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (*backendSet, error) {
	if cfg.DataBackend == config.BackendMemory {
		return newMemoryBackendSet(cfg, logger), nil
	}

	client := supabase.NewClient(
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		&http.Client{Timeout: cfg.HTTPTimeout},
		logger,
		supabase.WithRecorder(collector),
	)

	var store supabase.SessionStore = supabase.NewMemoryStore()
	if cfg.SessionFile != "" {
		store = supabase.NewFileStore(cfg.SessionFile)
	}
	auth := supabase.NewAuth(client, store, cfg.RefreshMargin, logger)

	switch cfg.DataBackend {
	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established")

		return &backendSet{
			auth:        auth,
			profiles:    repository.NewPostgresProfileRepo(db),
			predictions: repository.NewPostgresPredictionRepo(db),
			health:      db,
			db:          db,
		}, nil

	default:
		rest := supabase.NewREST(client, auth)
		return &backendSet{
			auth:        auth,
			profiles:    repository.NewRESTProfileRepo(rest),
			predictions: repository.NewRESTPredictionRepo(rest),
		}, nil
	}
}

func newMemoryBackendSet(cfg *config.Config, logger *slog.Logger) *backendSet {
	secret := []byte(cfg.MemoryJWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
		logger.Warn("MEMORY_JWT_SECRET is not set, using a random signing key")
	}

	mem := memory.New(secret,
		memory.WithRefreshMargin(cfg.RefreshMargin),
		memory.WithLogger(logger),
	)
	return &backendSet{
		auth:        mem,
		profiles:    mem.Profiles(),
		predictions: mem.Predictions(),
	}
}

var (
	_ authBackend = (*supabase.Auth)(nil)
	_ authBackend = (*memory.Backend)(nil)
)
