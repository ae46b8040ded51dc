package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/ledger"
)

// importCmd replaces a cell's rows with a batch file
var importCmd = &cobra.Command{
	Use:   "import [cell] [file]",
	Short: "CEL 집계표 반영",
	Long: `최종 확정된 CEL 집계표 배치(YAML 또는 JSON)를 검증한 뒤 반영합니다.
같은 CEL을 다시 반영하면 이전 행을 원자적으로 대체합니다.
공개(published)된 CEL은 철회 전까지 반영할 수 없습니다.

Example:
  go run ./cmd/tally import C0123 cel_0123.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

// releaseCmd releases every imported cell under a scope
var releaseCmd = &cobra.Command{
	Use:   "release [scope]",
	Short: "CEL 공개 (관리자)",
	Long: `스코프 아래의 imported CEL을 published로 전환합니다.

Example:
  go run ./cmd/tally release 001`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

// withdrawCmd returns a published cell to imported
var withdrawCmd = &cobra.Command{
	Use:   "withdraw [cell]",
	Short: "CEL 공개 철회 (관리자)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWithdraw,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(withdrawCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := operator()
	if err != nil {
		return err
	}

	in, err := ledger.LoadBatchFile(args[1])
	if err != nil {
		return err
	}
	if in.Cell != "" && in.Cell != args[0] {
		return fmt.Errorf("batch file is for cell %s, not %s", in.Cell, args[0])
	}
	in.Cell = args[0]

	batch, err := in.ToBatch(id.Actor())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	receipt, err := e.svc.Import(ctx, batch, id)
	if err != nil {
		return err
	}

	PrintHeader("Cell imported · " + receipt.CellCode)
	fmt.Printf("  Generation: %s\n", receipt.Generation)
	fmt.Printf("  Status    : %s -> %s\n", receipt.PreviousStatus, okColor.Sprint(receipt.Status))
	fmt.Printf("  Rows      : %d (replaced %d)\n", receipt.Rows, receipt.Replaced)
	fmt.Printf("  Revision  : %d\n", receipt.Revision)
	PrintDoubleSeparator()
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := operator()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.svc.Release(ctx, args[0], id)
	if err != nil {
		return err
	}
	PrintTransition("Cells released", report)
	return nil
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := operator()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.svc.Withdraw(ctx, args[0], id)
	if err != nil {
		return err
	}
	PrintTransition("Cell withdrawn", report)
	return nil
}
