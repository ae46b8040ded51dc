package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/scheduler"
	"github.com/wonny/tally/pkg/config"
	"github.com/wonny/tally/pkg/logger"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `API 서버 없이 백그라운드 작업만 실행하거나 관리합니다.

Subcommands:
  start   - 스케줄러 시작
  list    - 등록된 작업 목록
  run     - 특정 작업 즉시 실행

Example:
  go run ./cmd/tally scheduler start
  go run ./cmd/tally scheduler list
  go run ./cmd/tally scheduler run consistency_audit`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		Long: `스케줄러를 시작하고 등록된 모든 작업을 스케줄합니다.

등록되는 작업:
- catalog_refresh: CATALOG_REFRESH_SCHEDULE (기본 5분마다)
- consistency_audit: AUDIT_SCHEDULE (기본 10분마다)

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Tally Scheduler ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	sched, e, err := initScheduler(cfg, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer e.Close()

	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sched, e, err := initScheduler(cfg, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer e.Close()

	printJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sched, e, err := initScheduler(cfg, log)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer e.Close()

	fmt.Printf("Running job: %s\n", jobName)
	result, err := sched.RunJob(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("job %s failed after %d attempts: %s", jobName, result.Attempts, result.Error)
	}
	msg := fmt.Sprintf("Job %s completed in %s", jobName, result.Duration)
	if result.Summary != "" {
		msg += ": " + result.Summary
	}
	PrintSuccess(msg)
	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()

	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		stat := stats[name]
		next := "-"
		if stat.NextRun != nil {
			next = stat.NextRun.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  - %-20s %-18s next: %s\n", name, stat.Schedule, dimColor.Sprint(next))
		if stat.LastSummary != "" {
			fmt.Printf("    last: %s\n", dimColor.Sprint(stat.LastSummary))
		}
	}
}

func initScheduler(cfg *config.Config, log *logger.Logger) (*scheduler.Scheduler, *engine, error) {
	e, err := openEngine(context.Background(), cfg, log)
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(log)
	if err := registerJobs(sched, e); err != nil {
		e.Close()
		return nil, nil, err
	}
	return sched, e, nil
}
