// Package tally computes and serves aggregated election results.
package tally

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/cellstate"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/logger"
)

// Aggregator sums ledger rows for a set of cells
// ⭐ SSOT: 집계 계산은 여기서만
type Aggregator struct {
	store  contracts.LedgerRepository
	logger *logger.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(store contracts.LedgerRepository, log *logger.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: log.Component("tally.aggregator"),
	}
}

// Aggregate reads every allowed cell in one snapshot and sums them
func (a *Aggregator) Aggregate(ctx context.Context, cat *catalog.Catalog, allowed visibility.AllowedScope) (*contracts.AggregateResult, error) {
	snap, err := a.store.Snapshot(ctx, allowed.Cells)
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}

	result := a.Compute(cat, allowed, snap)

	a.logger.WithFields(logger.Fields{
		"scope":    allowed.Unit.Key,
		"cells":    result.Coverage.TotalCells,
		"eligible": result.Coverage.EligibleCells,
		"pending":  result.Coverage.PendingCells,
		"withheld": len(result.Coverage.WithheldCells),
		"revision": result.Revision,
	}).Debug("Aggregated scope")

	return result, nil
}

// Compute sums snap over the allowed cells. It has no side effects other
// than logging inconsistent cells, so the same snapshot always yields the
// same result.
func (a *Aggregator) Compute(cat *catalog.Catalog, allowed visibility.AllowedScope, snap *contracts.LedgerSnapshot) *contracts.AggregateResult {
	result := &contracts.AggregateResult{
		Scope:    allowed.Unit.Ref(),
		Narrowed: allowed.Narrowed,
		Revision: snap.Revision,
		AsOf:     snap.AsOf,
		Coverage: contracts.Coverage{
			TotalCells:        len(allowed.Cells),
			PendingCellCodes:  []string{},
			InconsistentCells: []string{},
			WithheldCells:     allowed.Withheld,
		},
		Candidates: []contracts.CandidateResult{},
	}

	rules := ledger.RulesFor(cat)
	var scores [contracts.MaxCandidateSlots]int64

	for _, code := range allowed.Cells {
		if cell, ok := cat.Cell(code); ok {
			result.Coverage.DeclaredStations += cell.StationCount
		}

		cl := snap.Cell(code)
		if !cellstate.Eligible(cl.Status) {
			result.Coverage.PendingCells++
			result.Coverage.PendingCellCodes = append(result.Coverage.PendingCellCodes, code)
			continue
		}

		// 적재 후 손상된 행은 집계 제외
		if problems := ledger.CheckConsistency(cl.Rows, rules); len(problems) > 0 {
			result.Coverage.InconsistentCells = append(result.Coverage.InconsistentCells, code)
			a.logger.WithFields(logger.Fields{
				"cell":       code,
				"generation": cl.Generation,
				"problems":   problems,
			}).Error("Inconsistent cell excluded from aggregation")
			continue
		}

		result.Coverage.EligibleCells++
		if cl.Status == contracts.CellPublished {
			result.Coverage.PublishedCells++
		}

		for i := range cl.Rows {
			row := &cl.Rows[i]
			if !row.Counted() {
				result.Coverage.SkippedRows++
				continue
			}
			result.Coverage.CountedRows++
			result.Totals.Add(row)
			for slot, s := range row.Scores {
				scores[slot] += s
			}
		}
	}

	result.NoData = result.Coverage.EligibleCells == 0

	t := result.Totals
	result.Rates = contracts.Rates{
		Turnout:      Percent(t.Voters, t.Registered),
		NullBallots:  Percent(t.NullBallots, t.Voters),
		BlankBallots: Percent(t.BlankBallots, t.Expressed),
	}

	// 득표 0인 후보는 해당 범위에서만 제외
	for _, cand := range cat.Candidates() {
		score := scores[cand.Index()]
		if score == 0 {
			continue
		}
		result.Candidates = append(result.Candidates, contracts.CandidateResult{
			Slot:       cand.Slot,
			Name:       cand.Name,
			Sponsor:    cand.Sponsor,
			Score:      score,
			Percentage: Percent(score, t.Expressed),
		})
	}

	return result
}

var hundred = decimal.NewFromInt(100)

// Percent returns part/whole as a percentage rounded half-up to 2 places.
// A zero whole yields 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(hundred).
		Div(decimal.NewFromInt(whole)).
		Round(2).
		InexactFloat64()
}
