package ledger

import (
	"fmt"

	"github.com/wonny/tally/internal/contracts"
)

// Rules are the per-election checks applied to every completed row
type Rules struct {
	// Slots is the number of candidate slots in use; scores beyond it must be zero
	Slots int
}

// ValidateBatch checks every row of batch and returns a *contracts.ValidationError
// listing all problems, or nil.
// ⭐ SSOT: 행 정합성 검증은 여기서만
func ValidateBatch(batch contracts.ImportBatch, rules Rules) error {
	var problems []string

	if batch.CellCode == "" {
		problems = append(problems, "batch has no cell code")
	}
	if len(batch.Rows) == 0 {
		problems = append(problems, "batch has no rows")
	}

	seen := make(map[int]bool, len(batch.Rows))
	for i := range batch.Rows {
		row := &batch.Rows[i]
		if row.CellCode != "" && row.CellCode != batch.CellCode {
			problems = append(problems, fmt.Sprintf("row %d: belongs to cell %s", row.RowNo, row.CellCode))
		}
		if row.RowNo <= 0 {
			problems = append(problems, fmt.Sprintf("row at index %d: row number must be positive", i))
		} else if seen[row.RowNo] {
			problems = append(problems, fmt.Sprintf("row %d: duplicate row number", row.RowNo))
		}
		seen[row.RowNo] = true

		switch row.Status {
		case contracts.ImportCompleted, contracts.ImportPartial, contracts.ImportRejected:
		default:
			problems = append(problems, fmt.Sprintf("row %d: unknown status %q", row.RowNo, row.Status))
		}

		for _, p := range RowProblems(row, rules) {
			problems = append(problems, fmt.Sprintf("row %d: %s", row.RowNo, p))
		}
	}

	if len(problems) > 0 {
		return &contracts.ValidationError{CellCode: batch.CellCode, Problems: problems}
	}
	return nil
}

// RowProblems returns the numeric inconsistencies of one row.
// Non-completed rows are only checked for negative counts since they are
// never summed.
func RowProblems(row *contracts.LedgerRow, rules Rules) []string {
	var problems []string

	counts := []struct {
		name  string
		value int64
	}{
		{"registered_men", row.RegisteredMen},
		{"registered_women", row.RegisteredWomen},
		{"registered", row.Registered},
		{"voters_men", row.VotersMen},
		{"voters_women", row.VotersWomen},
		{"voters", row.Voters},
		{"null_ballots", row.NullBallots},
		{"expressed", row.Expressed},
		{"blank_ballots", row.BlankBallots},
	}
	for _, c := range counts {
		if c.value < 0 {
			problems = append(problems, fmt.Sprintf("%s is negative (%d)", c.name, c.value))
		}
	}
	for i, s := range row.Scores {
		if s < 0 {
			problems = append(problems, fmt.Sprintf("score of slot %d is negative (%d)", i+1, s))
		}
	}

	if !row.Counted() || len(problems) > 0 {
		return problems
	}

	// 성별 합계는 둘 다 비어 있으면 생략
	if split := row.RegisteredMen + row.RegisteredWomen; split != 0 && split != row.Registered {
		problems = append(problems, fmt.Sprintf("registered %d does not match men+women %d", row.Registered, split))
	}
	if split := row.VotersMen + row.VotersWomen; split != 0 && split != row.Voters {
		problems = append(problems, fmt.Sprintf("voters %d does not match men+women %d", row.Voters, split))
	}
	if row.Voters > row.Registered {
		problems = append(problems, fmt.Sprintf("voters %d exceed registered %d", row.Voters, row.Registered))
	}
	if row.NullBallots+row.Expressed > row.Voters {
		problems = append(problems, fmt.Sprintf("null %d + expressed %d exceed voters %d", row.NullBallots, row.Expressed, row.Voters))
	}
	if row.BlankBallots > row.Expressed {
		problems = append(problems, fmt.Sprintf("blank %d exceed expressed %d", row.BlankBallots, row.Expressed))
	}
	if total := row.ScoreTotal(); total != row.Expressed-row.BlankBallots {
		problems = append(problems, fmt.Sprintf("candidate scores %d do not match expressed %d minus blank %d", total, row.Expressed, row.BlankBallots))
	}
	if rules.Slots > 0 {
		for i := rules.Slots; i < contracts.MaxCandidateSlots; i++ {
			if row.Scores[i] != 0 {
				problems = append(problems, fmt.Sprintf("score in unused slot %d", i+1))
			}
		}
	}

	return problems
}

// CheckConsistency re-checks stored rows before they are summed.
// A non-empty result marks the cell inconsistent; the aggregator excludes it.
func CheckConsistency(rows []contracts.LedgerRow, rules Rules) []string {
	var problems []string
	for i := range rows {
		for _, p := range RowProblems(&rows[i], rules) {
			problems = append(problems, fmt.Sprintf("row %d: %s", rows[i].RowNo, p))
		}
	}
	return problems
}
