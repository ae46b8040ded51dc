package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/contracts"
)

// publishCmd sets a unit's flag to published
var publishCmd = &cobra.Command{
	Use:   "publish [scope]",
	Short: "단위 공표 (관리자)",
	Long: `단위의 공표 플래그를 published로 설정합니다.
가장 가까운 상위 단위의 플래그가 하위 단위에 적용됩니다.
CEL 상태와는 독립적입니다.

Example:
  go run ./cmd/tally publish 001
  go run ./cmd/tally publish national --actor ceiadmin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPublication(args[0], true)
	},
}

// unpublishCmd sets a unit's flag to not published
var unpublishCmd = &cobra.Command{
	Use:   "unpublish [scope]",
	Short: "단위 공표 취소 (관리자)",
	Long: `단위의 공표 플래그를 not_published로 설정합니다.
상위 단위가 공표되어 있어도 이 단위와 하위 단위는 외부에 노출되지 않습니다.

Example:
  go run ./cmd/tally unpublish 001-01`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPublication(args[0], false)
	},
}

// flagsCmd lists explicit flags
var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "공표 플래그 목록",
	RunE:  runFlags,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)
	rootCmd.AddCommand(flagsCmd)
}

func runPublication(scope string, publish bool) error {
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

	var flag *contracts.PublicationFlag
	if publish {
		flag, err = e.svc.Publish(ctx, scope, id)
	} else {
		flag, err = e.svc.Unpublish(ctx, scope, id)
	}
	if err != nil {
		return err
	}

	PrintHeader("Publication flag changed")
	PrintFlag(flag)
	PrintDoubleSeparator()
	return nil
}

func runFlags(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
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

	flags, err := e.svc.PublicationFlags(ctx)
	if err != nil {
		return err
	}

	PrintHeader(fmt.Sprintf("Publication flags (gate: %s)", e.gate.Mode()))
	if len(flags) == 0 {
		fmt.Printf("  %s\n", dimColor.Sprint("No explicit flags: every unit is not published"))
	}
	for i := range flags {
		PrintFlag(&flags[i])
	}
	PrintDoubleSeparator()
	return nil
}
