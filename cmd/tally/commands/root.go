package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/contracts"
)

var (
	// Global flags
	verbose   bool
	actorName string
	actorRole string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Election tally aggregation and publication engine",
	Long: `Tally Unified CLI

선거 개표 집계 및 공표 엔진.
CEL 단위 집계표를 수집하고, 지역 단위로 합산하며, 공표 플래그로 외부 공개를 통제합니다.

Usage:
  go run ./cmd/tally [command]

Examples:
  go run ./cmd/tally api
  go run ./cmd/tally migrate
  go run ./cmd/tally seed reference.yaml
  go run ./cmd/tally import C1 batch.yaml
  go run ./cmd/tally results 001-01-001
  go run ./cmd/tally publish 001`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "cli", "user id recorded on changes")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", string(contracts.RoleAdmin), "role of the operator (superadmin|admin|user|public)")
}

// operator is the identity CLI commands act as
func operator() (contracts.Identity, error) {
	role, err := contracts.ParseRole(actorRole)
	if err != nil {
		return contracts.Identity{}, fmt.Errorf("--role: %w", err)
	}
	return contracts.Identity{UserID: actorName, Role: role}, nil
}
