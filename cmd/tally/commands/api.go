package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/api"
	"github.com/wonny/tally/internal/api/handlers"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/scheduler"
	"github.com/wonny/tally/internal/scheduler/jobs"
	"github.com/wonny/tally/pkg/config"
	"github.com/wonny/tally/pkg/httputil"
	"github.com/wonny/tally/pkg/logger"
	"github.com/wonny/tally/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- 참조 데이터(카탈로그) 로드
- 집계/공표 엔드포인트 제공
- 공표 이벤트 websocket 피드 및 웹훅 전송
- 카탈로그 갱신, 정합성 감사 스케줄 실행 (--no-scheduler로 비활성화)

Endpoints:
  GET  /health                              - Health check
  GET  /api/public/results?scope=001        - 외부 공개 결과 (공표 게이트 적용)
  GET  /api/public/feed                     - 공표 이벤트 websocket
  GET  /api/results?scope=001-01-001        - 내부 결과 조회
  GET  /api/results/local/{level}/{code}    - 로컬 코드 조회 (모호하면 409)
  GET  /api/catalog/resolve                 - 스코프 해석
  GET  /api/catalog/units/{key}             - 단위 탐색
  POST /api/publication/publish             - 공표 (관리자)
  POST /api/publication/unpublish           - 공표 취소 (관리자)
  POST /api/cells/{code}/import             - CEL 집계표 반영
  POST /api/cells/release                   - CEL 공개 (관리자)
  POST /api/cells/{code}/withdraw           - CEL 공개 철회 (관리자)

Example:
  go run ./cmd/tally api
  go run ./cmd/tally api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort        string
	apiNoScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본값: PORT 환경변수)")
	apiCmd.Flags().BoolVar(&apiNoScheduler, "no-scheduler", false, "백그라운드 작업 비활성화")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Tally API Server ===")

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)
	log.WithFields(logger.Fields{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Publication sinks: websocket feed, optional webhook
	feed := handlers.NewFeedHub(log)
	sinks := []publication.Sink{feed}

	var notifier *publication.Notifier
	if cfg.Tally.PublicationWebhookURL != "" {
		notifier = publication.NewNotifier(cfg.Tally.PublicationWebhookURL, httputil.New(log), log)
		sinks = append(sinks, notifier)
		go notifier.Run(ctx)
	}

	// 4. Stores and services
	e, err := openEngine(ctx, cfg, log, sinks...)
	if err != nil {
		return err
	}
	defer e.Close()

	// 5. Background jobs
	var sched *scheduler.Scheduler
	if !apiNoScheduler {
		sched = scheduler.New(log)
		if err := registerJobs(sched, e); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// 6. Router
	h := api.Handlers{
		Results:     handlers.NewResultsHandler(e.svc, log),
		Publication: handlers.NewPublicationHandler(e.svc, log),
		Cells:       handlers.NewCellHandler(e.svc, log),
		Catalog:     handlers.NewCatalogHandler(e.svc, log),
		Feed:        feed,
	}
	limiter := api.NewPublicLimiter(redis.NewRateLimiter(e.redis, "tally"), cfg.Tally.PublicRateLimit, cfg.Tally.PublicRateWindow, log)
	router := api.NewRouter(h, limiter, log)

	// 7. Server
	server := api.New(cfg, log, router)
	server.OnShutdown(feed.Close)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Printf("   Gate mode: %s\n", e.gate.Mode())
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal or a startup failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if notifier != nil && notifier.Pending() > 0 {
		log.WithField("pending", notifier.Pending()).Warn("Dropping undelivered publication webhooks")
	}

	log.Info("Server stopped")
	return nil
}

// registerJobs adds the engine's background jobs
func registerJobs(sched *scheduler.Scheduler, e *engine) error {
	if err := sched.AddJob(jobs.NewCatalogRefreshJob(e.refresher, e.holder, e.cfg.Tally.CatalogRefreshSchedule, e.log)); err != nil {
		return err
	}
	if err := sched.AddJob(jobs.NewConsistencyAuditJob(e.auditor, e.cfg.Tally.AuditSchedule, e.log)); err != nil {
		return err
	}
	return nil
}
