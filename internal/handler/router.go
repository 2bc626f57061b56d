package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/heartrisk/internal/metrics"
	"github.com/hitoshi/heartrisk/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// HealthChecker は依存先の疎通確認に必要なインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionState      middleware.SessionState
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ハンドラー依存
	AuthService       AuthServiceInterface
	ProfileService    ProfileServiceInterface
	PredictionService PredictionServiceInterface

	// 運用
	HealthChecker HealthChecker // DB直接接続時のみ。nilの場合はDBの確認を省略する
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → CSRF
//	  /auth/signup, /auth/signin: + RateLimit(Auth)
//	  /api/*: + Session → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	predictionHandler := NewPredictionHandler(deps.PredictionService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker, deps.SessionState))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
		})
		r.Post("/signout", authHandler.SignOut)
		r.Get("/session", authHandler.Session)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionState))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Put("/profile", profileHandler.UpdateProfile)
		r.Delete("/account", profileHandler.DeleteAccount)

		r.Route("/predictions", func(r chi.Router) {
			r.Post("/", predictionHandler.Submit)
			r.Get("/", predictionHandler.List)
			r.Delete("/", predictionHandler.Clear)
			r.Delete("/{id}", predictionHandler.Delete)
		})
	})

	return r
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// healthHandler はプロセスの稼働状況を返す。DB直接接続時は疎通も確認する。
// GET /health
func healthHandler(checker HealthChecker, state middleware.SessionState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if state != nil && state.IsLoading() {
			resp.Status = "starting"
		}

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				resp.Status = "unavailable"
				resp.Database = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Database = "ok"
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
