package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/growthdash/internal/agent"
	"github.com/hitoshi/growthdash/internal/analytics"
	"github.com/hitoshi/growthdash/internal/apiset"
	"github.com/hitoshi/growthdash/internal/client"
	"github.com/hitoshi/growthdash/internal/config"
	"github.com/hitoshi/growthdash/internal/dashboard"
	"github.com/hitoshi/growthdash/internal/database"
	"github.com/hitoshi/growthdash/internal/handler"
	"github.com/hitoshi/growthdash/internal/identity"
	"github.com/hitoshi/growthdash/internal/integration"
	"github.com/hitoshi/growthdash/internal/logger"
	"github.com/hitoshi/growthdash/internal/metrics"
	"github.com/hitoshi/growthdash/internal/middleware"
	"github.com/hitoshi/growthdash/internal/repository"
	"github.com/hitoshi/growthdash/internal/security"
	"github.com/hitoshi/growthdash/internal/session"
	"github.com/hitoshi/growthdash/internal/worker/cleanup"
	"github.com/hitoshi/growthdash/internal/worker/metricsync"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

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
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newFactories は5つのデータアクセスハンドルの生成関数を組み立てる。
func newFactories(db *sql.DB, guard security.EndpointGuard, sanitizer security.TextSanitizer) apiset.Factories {
	clientRepo := repository.NewPostgresClientRepo(db)
	agentRepo := repository.NewPostgresAgentRepo(db)
	integrationRepo := repository.NewPostgresIntegrationRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)

	return apiset.Factories{
		Clients: func() apiset.Clients {
			return client.NewService(clientRepo, sanitizer)
		},
		Agents: func() apiset.Agents {
			return agent.NewService(agentRepo, clientRepo, sanitizer)
		},
		Analytics: func() apiset.Analytics {
			return analytics.NewService(snapshotRepo)
		},
		Integrations: func() apiset.Integrations {
			return integration.NewService(integrationRepo, clientRepo, guard, sanitizer)
		},
		Dashboard: func() apiset.Dashboard {
			return dashboard.NewService(clientRepo, snapshotRepo, agentRepo, integrationRepo)
		},
	}
}

// newIdentityClient は認証プロバイダーのRESTクライアントを生成する。
// セッショントークンはauth_sessionsテーブルに永続化する。
func newIdentityClient(cfg *config.Config, store identity.SessionStore) *identity.Client {
	var secret []byte
	if cfg.AuthJWTSecret != "" {
		secret = []byte(cfg.AuthJWTSecret)
	}
	return identity.NewClient(identity.ClientConfig{
		BaseURL:       cfg.AuthURL,
		APIKey:        cfg.AuthAPIKey,
		StorageKey:    cfg.AuthStorageKey,
		RefreshMargin: cfg.AuthRefreshMargin,
		RedirectURL:   cfg.AuthResetRedirectURL,
		JWTSecret:     secret,
	}, store, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// 認証セッションマネージャーとデータアクセスハンドルを起動時に1回だけ生成し、
// 全リクエストのスコープとして共有する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 1. 認証プロバイダーとセッションマネージャー
	idClient := newIdentityClient(cfg, repository.NewPostgresSessionRepo(db))
	manager := session.NewManager(idClient, slog.Default(), collector)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer manager.Close()

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go idClient.StartAutoRefresh(refreshCtx, cfg.AuthRefreshInterval)

	// 2. データアクセスハンドル
	factories := newFactories(db, security.NewEndpointGuard(), security.NewTextSanitizer())
	_, handles, err := apiset.Provide(ctx, factories)
	if err != nil {
		return fmt.Errorf("failed to provide api handles: %w", err)
	}

	// 3. ルーター
	authLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitAuth), slog.Default())
	defer authLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Manager:           manager,
		Handles:           handles,
		HealthChecker:     db,
		Gatherer:          registry,
		Collector:         collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		SessionCookie: middleware.SessionCookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		},
		AuthRateLimiter: authLimiter,
		Logger:          slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server)
}

// serveUntilDone はHTTPサーバーを起動し、ctxのキャンセルでグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 指標同期スケジューラとスナップショットのクリーンアップジョブを実行し、
// ctxがキャンセルされると停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	integrationRepo := repository.NewPostgresIntegrationRepo(db)
	recorder := analytics.NewService(repository.NewPostgresSnapshotRepo(db))
	connector := integration.NewConnector(
		security.NewEndpointGuard(), slog.Default(), cfg.SyncTimeout, cfg.SyncMaxSize,
	)

	syncer := metricsync.NewSyncer(integrationRepo, connector, recorder, collector, slog.Default())
	scheduler := metricsync.NewScheduler(integrationRepo, syncer, slog.Default(), cfg.SyncMaxConcurrent)
	cleanupJob := cleanup.NewSnapshotCleanupJob(db, slog.Default(), cfg.SnapshotRetentionDays)

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
		slog.Int("retention_days", cleanupJob.RetentionDays()),
	)

	go cleanupJob.Start(ctx, cleanupInterval)

	// 同期メトリクスとヘルスチェックをSERVER_PORTで公開する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerMux(db, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, server); err != nil {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMux はワーカーの/healthと/metricsを提供するハンドラーを返す。
func newWorkerMux(checker handler.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), dbPingTimeout)
		defer cancel()
		if err := checker.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler(gatherer))
	return mux
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(url)
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
