package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/metrics"
	"github.com/hitoshi/growthdash/internal/middleware"
	"github.com/hitoshi/growthdash/internal/session"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// プロセスで1つずつ生成される共有インスタンス
	Manager *session.Manager
	Handles *apiset.HandleSet

	HealthChecker HealthChecker

	// メトリクス（nilの場合は/metricsとHTTPステータス計測を無効化）
	Gatherer  prometheus.Gatherer
	Collector middleware.HTTPResponseRecorder

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	SessionCookie     middleware.SessionCookieConfig
	AuthRateLimiter   *middleware.RateLimiter

	Logger *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Scope → Logging → Metrics → CSRF
//
// /api/* と /auth/signup, /auth/signout はさらにRequireAuthenticatedを通過した
// リクエスト（セッションCookieまたは現在のアクセストークンを提示したもの）のみ受け付ける。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	// ログにユーザーIDを含めるため、スコープ注入をロギングより先に行う
	r.Use(middleware.NewScopeMiddleware(deps.Manager, deps.Handles))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Collector != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Collector))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF, logger))

	guard := middleware.NewSessionGuard(deps.SessionCookie)
	requireAuthenticated := middleware.NewRequireAuthenticatedMiddleware(guard, logger)

	authHandler := NewAuthHandler(guard, logger)
	clientHandler := NewClientHandler(logger)
	analyticsHandler := NewAnalyticsHandler(logger)
	integrationHandler := NewIntegrationHandler(logger)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker, logger))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF, logger))

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.AuthRateLimiter != nil {
				r.Use(deps.AuthRateLimiter.Middleware(middleware.ClientIP))
			}
			r.Post("/signin", authHandler.SignIn)
			r.Post("/reset-password", authHandler.ResetPassword)

			// アカウント作成とサインアウトはプロセスのセッションを置き換えるため、
			// サインイン済みのリクエストに限る
			r.With(requireAuthenticated).Post("/signup", authHandler.SignUp)
			r.With(requireAuthenticated).Post("/signout", authHandler.SignOut)
		})

		r.Get("/state", authHandler.State)
		r.Post("/state/ack", authHandler.AcknowledgeError)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuthenticated)

		// 顧客
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", clientHandler.ListClients)
			r.Post("/", clientHandler.CreateClient)

			r.Route("/{clientID}", func(r chi.Router) {
				r.Get("/", clientHandler.GetClient)
				r.Put("/status", clientHandler.UpdateClientStatus)

				r.Get("/agents", clientHandler.ListAgents)
				r.Post("/agents", clientHandler.CreateAgent)

				r.Get("/integrations", integrationHandler.ListIntegrations)
				r.Post("/integrations", integrationHandler.RegisterIntegration)

				r.Get("/metrics/{metric}", analyticsHandler.Series)
				r.Get("/dashboard", analyticsHandler.Dashboard)
			})
		})

		// エージェント
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/", clientHandler.GetAgent)
			r.Put("/status", clientHandler.UpdateAgentStatus)
		})

		// 外部連携
		r.Route("/integrations/{integrationID}", func(r chi.Router) {
			r.Get("/", integrationHandler.GetIntegration)
			r.Delete("/", integrationHandler.RemoveIntegration)
			r.Put("/settings", integrationHandler.UpdateSettings)
			r.Post("/reconnect", integrationHandler.Reconnect)
		})
	})

	return r
}

// healthHandler はヘルスチェックのハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				logger.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
