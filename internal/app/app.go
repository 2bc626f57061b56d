package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/heartrisk/internal/config"
	"github.com/hitoshi/heartrisk/internal/database"
	"github.com/hitoshi/heartrisk/internal/handler"
	"github.com/hitoshi/heartrisk/internal/logger"
	"github.com/hitoshi/heartrisk/internal/metrics"
	"github.com/hitoshi/heartrisk/internal/middleware"
	"github.com/hitoshi/heartrisk/internal/prediction"
	"github.com/hitoshi/heartrisk/internal/security"
	"github.com/hitoshi/heartrisk/internal/session"
	"github.com/hitoshi/heartrisk/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("data_backend", cfg.DataBackend),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return serve(ctx, cfg, ln)
}

// server はserveモードで起動するコンポーネント一式。
type server struct {
	backends  *backendSet
	container *session.Container
	worker    *refresh.Worker
	limiter   *middleware.RateLimiter
	handler   http.Handler
}

// newServer は全依存関係をワイヤリングする。呼び出し側でcloseを呼ぶこと。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. データバックエンド
	backends, err := newBackendSet(ctx, cfg, collector, log)
	if err != nil {
		return nil, err
	}

	// 3. セッションコンテナ
	container := session.New(backends.auth, backends.profiles,
		session.WithLogger(log),
		session.WithRecorder(collector),
		session.WithSanitizer(security.NewTextSanitizer()),
		session.WithURLValidator(security.NewAvatarURLGuard()),
	)

	// 4. 予測サービス
	predictionService := prediction.NewService(backends.predictions, nil, collector)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位なのでreq/secに変換する
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     perMinute(cfg.RateLimitGeneral),
		GeneralBurst:    cfg.RateLimitGeneral,
		AuthRate:        perMinute(cfg.RateLimitAuth),
		AuthBurst:       cfg.RateLimitAuth,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		SessionState:      container,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		AuthService:       container,
		ProfileService:    container,
		PredictionService: predictionService,
		HealthChecker:     backends.health,
		Gatherer:          reg,
	})

	return &server{
		backends:  backends,
		container: container,
		worker:    refresh.NewWorker(backends.auth, cfg.RefreshInterval, log, collector),
		limiter:   limiter,
		handler:   router,
	}, nil
}

// start はセッションを解決し、バックグラウンドのリフレッシュを開始する。
func (s *server) start(ctx context.Context) error {
	if err := s.container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session container: %w", err)
	}
	s.worker.Start(ctx)
	return nil
}

// close はバックグラウンド処理を停止し、リソースを解放する。
func (s *server) close() {
	s.worker.Stop()
	s.limiter.Stop()
	s.container.Close()
	if err := s.backends.Close(); err != nil {
		slog.Warn("failed to close backend", slog.String("error", err.Error()))
	}
}

// serve はlnでHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	log := slog.Default()

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		ln.Close()
		return err
	}
	defer srv.close()

	if err := srv.start(ctx); err != nil {
		ln.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-errCh

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.Migrate(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// perMinute は1分あたりのリクエスト数を1秒あたりのレートに変換する。
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}
