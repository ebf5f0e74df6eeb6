// Package app はコマンドの実行と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/bookshare/internal/catalog"
	"github.com/hitoshi/bookshare/internal/config"
	"github.com/hitoshi/bookshare/internal/database"
	"github.com/hitoshi/bookshare/internal/domain"
	"github.com/hitoshi/bookshare/internal/handler"
	"github.com/hitoshi/bookshare/internal/logger"
	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/middleware"
	"github.com/hitoshi/bookshare/internal/security"
	"github.com/hitoshi/bookshare/internal/worker/audit"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// 設定を読めなくてもエラーはJSONで出力する
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, cfg.LogLevel), nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとコマンドのコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// server はAPIサーバーの構成要素を保持する。
type server struct {
	handler http.Handler
	store   *store
	limiter *middleware.RateLimiter
}

// close はレートリミッターを停止し、ストアを閉じる。
func (s *server) close() error {
	s.limiter.Stop()
	return s.store.close()
}

// newServer はストアを開き、ドメインサービスとルーターを組み立てる。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	guard := security.NewOutboundGuard()
	catalogClient := catalog.NewClient(guard.NewClient(cfg.CatalogTimeout), log, catalog.Config{
		Endpoint:   cfg.CatalogEndpoint,
		MaxResults: cfg.CatalogMaxResults,
	})

	facade := domain.New(st.repos, domain.Options{
		Catalog: catalogClient,
		Metrics: collector,
		Logger:  log,
	})

	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		Service:           facade,
		Tokens:            middleware.NewTokenAuthenticator(cfg.TokenSecret, cfg.TokenTTL),
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            log,
		Metrics:           collector,
		Gatherer:          registry,
	}
	if st.health != nil {
		deps.HealthChecker = st.health
	}

	return &server{
		handler: handler.NewRouter(deps),
		store:   st,
		limiter: limiter,
	}, nil
}

// rateLimiterConfig は設定値（req/min/user）をレートリミッターの設定（req/sec）に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCatalog > 0 {
		rl.CatalogRate = rate.Limit(float64(cfg.RateLimitCatalog) / 60.0)
		rl.CatalogBurst = cfg.RateLimitCatalog
	}
	return rl
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.close(); err != nil {
			log.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.String("store_driver", cfg.StoreDriver),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動し、不変条件の監査ジョブを定期実行する。
// 監査は別プロセスから永続化データを検査するため、postgresストアでのみ動作する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("worker requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	registry := prometheus.NewRegistry()
	job := audit.NewJob(st.audit, metrics.NewCollector(registry), log)

	log.Info("worker starting", slog.Duration("audit_interval", cfg.AuditInterval))

	job.Start(ctx, cfg.AuditInterval)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionはup、down、versionのいずれか。downではsteps件のバージョンを戻す。
func runMigrate(w io.Writer, cfg *config.Config, log *slog.Logger, direction string, steps int) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	log.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		version, dirty, err := database.Version(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction: %q", direction)
	}

	log.Info("database migrations completed successfully", slog.String("direction", direction))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はhealthcheckサブコマンドが接続するポートを返す。
// 設定全体は読み込まずSERVER_PORTだけを参照する。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
