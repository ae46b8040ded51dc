package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/database"
)

// migrateCmd creates the schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "데이터베이스 스키마 생성",
	Long: `geo, ledger, publication 스키마와 테이블을 생성합니다.
이미 존재하는 객체는 건너뜁니다 (여러 번 실행해도 안전).

Example:
  go run ./cmd/tally migrate`,
	RunE: runMigrate,
}

// seedCmd loads reference data into Postgres
var seedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "참조 데이터 적재",
	Long: `YAML 참조 데이터(지역, 선거구, CEL, 후보자)를 검증한 뒤 Postgres에 적재합니다.
CEL 상태와 집계표 행은 변경하지 않습니다.

Example:
  go run ./cmd/tally seed reference.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := database.EnsureSchema(ctx, db.Pool); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("Schema ready (%d statements)", len(database.SchemaStatements())))
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	seed, err := catalog.LoadSeedFile(args[0])
	if err != nil {
		return err
	}
	cat, err := catalog.Build(seed)
	if err != nil {
		return err
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := catalog.NewRepository(db.Pool, seed.Election).Save(ctx, seed); err != nil {
		return err
	}

	stats := cat.Stats()
	PrintHeader("Reference data loaded")
	fmt.Printf("  %-15s: %s\n", "hash", stats.Hash[:12])
	for level := contracts.LevelRegion; level <= contracts.LevelPollingStation; level++ {
		fmt.Printf("  %-15s: %d\n", level, stats.Units[level])
	}
	fmt.Printf("  %-15s: %d\n", "cells", stats.Cells)
	fmt.Printf("  %-15s: %d\n", "candidates", stats.Candidates)
	PrintDoubleSeparator()
	return nil
}
