package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/stocktop/internal/activitylog"
	"github.com/wonny/stocktop/internal/api"
	"github.com/wonny/stocktop/internal/api/handlers"
	"github.com/wonny/stocktop/internal/auth"
	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/events"
	"github.com/wonny/stocktop/internal/market"
	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/internal/preferences"
	"github.com/wonny/stocktop/internal/scheduler"
	"github.com/wonny/stocktop/internal/scheduler/jobs"
	"github.com/wonny/stocktop/internal/session"
	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/internal/workspace"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/database"
	"github.com/wonny/stocktop/pkg/httputil"
	"github.com/wonny/stocktop/pkg/logger"
	"github.com/wonny/stocktop/pkg/redis"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "대시보드 서버 시작",
	Long: `대시보드 API 서버와 스케줄러를 시작합니다.

이 명령어는:
- 정적 스냅샷 로드 (실패 시 데모 데이터)
- 클라이언트별 세션/설정/모의투자 상태 관리
- 주기 작업 등록 (스냅샷 재로드, 모의투자 재로드, 유휴 클라이언트 정리)

Endpoints:
  GET  /health
  POST /api/auth/signin
  GET  /api/snapshot
  GET  /api/composite?mode=&source=
  GET  /api/papertrading
  GET  /ws/events

Example:
  go run ./cmd/dashboard serve
  go run ./cmd/dashboard serve --port 9090`,
	RunE: runServe,
}

var (
	servePort string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (기본값: PORT 환경변수)")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StockTop Dashboard ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	// 2. Initialize logger
	log := logger.New(cfg)
	if verbose {
		log = logger.NewWithWriter(os.Stdout, "debug", cfg.Env)
	}

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
		"data": cfg.Data.StaticURL,
	}).Info("Initializing dashboard server")

	ctx := context.Background()
	clk := clock.NewReal()

	// 3. Key-value storage (Redis when enabled)
	redisClient, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	var kv session.KV = session.NewMemoryKV()
	var limiter *redis.RateLimiter
	if redisClient.Enabled() {
		kv = redis.NewKV(redisClient, "stocktop")
		limiter = redis.NewRateLimiter(redisClient, "stocktop:ratelimit")
		log.Info("Using Redis for client storage")
	}

	// 4. Activity log writer (Postgres when configured, credential-service tables otherwise)
	var writer auth.ActivityWriter
	db, err := database.New(ctx, cfg)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		log.Info("DATABASE_URL not set, activity rows go to the credential service")
	case err != nil:
		return fmt.Errorf("connect to database: %w", err)
	default:
		defer db.Close()
		pgWriter := activitylog.NewWriter(db.Pool)
		if err := pgWriter.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure activity schema: %w", err)
		}
		writer = pgWriter
		log.Info("Connected to database")
	}

	// 5. Data sources
	httpClient := httputil.New(cfg, log)
	files := staticdata.New(cfg.Data.StaticURL, httpClient, clk)

	var live *httputil.Client
	if cfg.Data.LiveAPIURL != "" {
		live = httpClient
	}
	fetcher := market.NewFetcher(files, live, cfg.Data, clk, log)

	if err := fetcher.FetchStatic(ctx); err != nil {
		log.WithError(err).Warn("Initial snapshot load failed, serving demo data")
	}

	defaults, err := preferences.LoadDefaults(cfg.PreferencesFile)
	if err != nil {
		return fmt.Errorf("load preference defaults: %w", err)
	}

	// 6. Client workspaces and event stream
	registry := workspace.NewRegistry(workspace.Deps{
		Config:   cfg,
		KV:       kv,
		HTTP:     httpClient,
		Fetcher:  fetcher,
		Writer:   writer,
		Defaults: defaults,
		Clock:    clk,
		Logger:   log,
	})
	hub := events.NewHub(log)
	api.BridgeEvents(hub, fetcher, registry)

	// 7. Scheduler
	sched := scheduler.New(log)
	jobList := []scheduler.Job{
		jobs.NewSnapshotReloadJob(fetcher, cfg.Schedule.SnapshotReload, log),
		jobs.NewPaperTradingReloadJob(papertrading.NewLoader(files, log), registry, cfg.Schedule.PaperTradingReload, log),
		jobs.NewWorkspaceCleanupJob(registry, cfg.Session.WorkspaceIdleTTL, cfg.Schedule.WorkspaceCleanup, log),
	}
	for _, job := range jobList {
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name(), err)
		}
	}

	// 모의투자 데이터는 첫 요청 전에 한 번 로드 (재시도 포함 최대 30초)
	loadCtx, cancelLoad := context.WithTimeout(ctx, 30*time.Second)
	result, err := sched.RunNow(loadCtx, "paper_trading_reload")
	cancelLoad()
	if err != nil {
		log.WithError(err).Warn("Initial paper-trading load failed")
	} else if !result.Success {
		log.WithField("error", result.Error).Warn("Initial paper-trading load failed")
	}
	sched.Start()

	// 8. Router and server
	router := api.NewRouter(api.Handlers{
		Auth:         handlers.NewAuthHandler(limiter, cfg.Session.SignInRateLimit, log),
		Snapshot:     handlers.NewSnapshotHandler(fetcher, log),
		PaperTrading: handlers.NewPaperTradingHandler(log),
		Preferences:  handlers.NewPreferencesHandler(log),
		Events:       handlers.NewEventsHandler(hub, log),
	}, registry, api.RouterConfig{SecureCookies: cfg.Env == "production"}, log)

	server := api.New(cfg, log, router)

	// 9. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("Dashboard server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down dashboard...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Stop()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	registry.Close()

	log.Info("Dashboard stopped")
	return nil
}
