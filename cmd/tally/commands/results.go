package commands

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/tally"
)

// resultsCmd aggregates a scope
var resultsCmd = &cobra.Command{
	Use:   "results [scope]",
	Short: "집계 결과 조회",
	Long: `스코프(복합 키)의 집계 결과를 조회합니다.
스코프를 생략하면 전국 결과를 조회합니다.

Scope keys:
  001             - department 001
  001-01          - sub-prefecture 01 of department 001
  001-01-001      - commune
  region:R01      - region
  national        - 전국

--level/--code는 로컬 코드 조회이며, 여러 단위와 일치하면 오류가 됩니다.
--public은 외부 독자로 조회합니다 (공표 게이트 적용).

Example:
  go run ./cmd/tally results 001-01-001
  go run ./cmd/tally results --level commune --code 001
  go run ./cmd/tally results national --public --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResults,
}

var (
	resultsPublic bool
	resultsJSON   bool
	resultsLevel  string
	resultsCode   string
)

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().BoolVar(&resultsPublic, "public", false, "외부 독자로 조회")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "JSON 출력")
	resultsCmd.Flags().StringVar(&resultsLevel, "level", "", "로컬 코드 조회 레벨")
	resultsCmd.Flags().StringVar(&resultsCode, "code", "", "로컬 코드")
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	id, err := operator()
	if err != nil {
		return err
	}
	if resultsPublic {
		id = contracts.PublicIdentity()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	q := tally.Query{Identity: id, Audience: publication.AudienceExternal}

	var resp *tally.Response
	if resultsLevel != "" {
		level, err := contracts.ParseLevel(resultsLevel)
		if err != nil {
			return err
		}
		resp, err = e.svc.ResultsByLocal(ctx, level, resultsCode, q)
		if err != nil {
			return err
		}
	} else {
		if len(args) == 1 {
			q.ScopeKey = args[0]
		}
		resp, err = e.svc.Results(ctx, q)
		if err != nil {
			return err
		}
	}

	if resultsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	PrintResponse(resp)
	return nil
}
