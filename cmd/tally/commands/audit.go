package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// auditCmd runs the roll-up consistency audit once
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "집계 정합성 감사",
	Long: `한 시점의 원장 스냅샷으로 모든 단계의 합산을 다시 계산하고 비교합니다.

검사 항목:
- 전국 = Σ 지역 = Σ 선거구(department)
- 선거구 = Σ 부지사(sub-prefecture) = Σ 코뮌(commune)
- 불일치 행이 있는 CEL

불일치가 있으면 종료 코드 1을 반환합니다.

Example:
  go run ./cmd/tally audit`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.auditor.Reconcile(ctx)
	if err != nil {
		return err
	}

	PrintAudit(report)
	if !report.OK() {
		return fmt.Errorf("audit found %d mismatches and %d inconsistent cells", len(report.Mismatches), len(report.InconsistentCells))
	}
	return nil
}
