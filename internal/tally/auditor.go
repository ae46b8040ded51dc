package tally

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/logger"
)

// Mismatch is one roll-up whose children do not add up to the parent
type Mismatch struct {
	Parent     string          `json:"parent"`
	ChildLevel contracts.Level `json:"child_level"`
	Field      string          `json:"field"`
	Expected   int64           `json:"expected"` // parent value
	Actual     int64           `json:"actual"`   // sum over children
}

func (m Mismatch) String() string {
	parent := m.Parent
	if parent == contracts.NationalKey {
		parent = "national"
	}
	return fmt.Sprintf("%s vs Σ %s: %s %d != %d", parent, m.ChildLevel, m.Field, m.Expected, m.Actual)
}

// AuditReport is the outcome of one reconciliation run
type AuditReport struct {
	Revision          int64      `json:"revision"`
	CheckedAt         time.Time  `json:"checked_at"`
	Checks            int        `json:"checks"`
	Mismatches        []Mismatch `json:"mismatches"`
	EligibleCells     int        `json:"eligible_cells"`
	PendingCells      int        `json:"pending_cells"`
	InconsistentCells []string   `json:"inconsistent_cells"`
}

// OK reports whether the run found nothing to fix
func (r *AuditReport) OK() bool {
	return len(r.Mismatches) == 0 && len(r.InconsistentCells) == 0
}

// Auditor re-derives every roll-up from one snapshot and checks that
// national == Σ regions == Σ departments, and that each department equals
// the sum of its sub-prefectures and of its communes.
type Auditor struct {
	catalog    *catalog.Holder
	store      contracts.LedgerRepository
	aggregator *Aggregator
	logger     *logger.Logger
	now        func() time.Time
}

// NewAuditor creates a new auditor
func NewAuditor(holder *catalog.Holder, store contracts.LedgerRepository, log *logger.Logger) *Auditor {
	return &Auditor{
		catalog:    holder,
		store:      store,
		aggregator: NewAggregator(store, log),
		logger:     log.Component("tally.auditor"),
		now:        time.Now,
	}
}

// Reconcile runs every check against one ledger snapshot
func (a *Auditor) Reconcile(ctx context.Context) (*AuditReport, error) {
	cat := a.catalog.Current()
	national, ok := cat.Unit(contracts.NationalKey)
	if !ok {
		return nil, fmt.Errorf("%w: national unit", contracts.ErrNotFound)
	}

	snap, err := a.store.Snapshot(ctx, cat.DescendantCells(national))
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}

	memo := make(map[string]*contracts.AggregateResult)
	compute := func(u *contracts.GeoUnit) *contracts.AggregateResult {
		if r, ok := memo[u.Key]; ok {
			return r
		}
		r := a.aggregator.Compute(cat, visibility.AllowedScope{Unit: u, Cells: cat.DescendantCells(u)}, snap)
		memo[u.Key] = r
		return r
	}

	nat := compute(national)
	report := &AuditReport{
		Revision:          snap.Revision,
		CheckedAt:         a.now(),
		Mismatches:        []Mismatch{},
		EligibleCells:     nat.Coverage.EligibleCells,
		PendingCells:      nat.Coverage.PendingCells,
		InconsistentCells: nat.Coverage.InconsistentCells,
	}

	check := func(parent *contracts.GeoUnit, childLevel contracts.Level, children []*contracts.GeoUnit) {
		results := make([]*contracts.AggregateResult, len(children))
		for i, c := range children {
			results[i] = compute(c)
		}
		report.Checks++
		report.Mismatches = append(report.Mismatches, compareRollup(parent.Key, childLevel, compute(parent), results)...)
	}

	regions := cat.Children(national.Key)
	check(national, contracts.LevelRegion, regions)

	var departments []*contracts.GeoUnit
	for _, r := range regions {
		departments = append(departments, cat.Children(r.Key)...)
	}
	check(national, contracts.LevelDepartment, departments)

	for _, d := range departments {
		subPrefectures := cat.Children(d.Key)
		check(d, contracts.LevelSubPrefecture, subPrefectures)

		var communes []*contracts.GeoUnit
		for _, sp := range subPrefectures {
			communes = append(communes, cat.Children(sp.Key)...)
		}
		check(d, contracts.LevelCommune, communes)
	}

	log := a.logger.WithFields(logger.Fields{
		"revision":     report.Revision,
		"checks":       report.Checks,
		"mismatches":   len(report.Mismatches),
		"inconsistent": len(report.InconsistentCells),
		"pending":      report.PendingCells,
	})
	for _, m := range report.Mismatches {
		a.logger.WithField("mismatch", m.String()).Error("Roll-up mismatch")
	}
	if report.OK() {
		log.Info("Consistency audit passed")
	} else {
		log.Warn("Consistency audit found problems")
	}

	return report, nil
}

// compareRollup checks that children sum to parent on every counter,
// every candidate slot and the cell count
func compareRollup(parentKey string, childLevel contracts.Level, parent *contracts.AggregateResult, children []*contracts.AggregateResult) []Mismatch {
	var sum contracts.Totals
	var cells int
	slots := make(map[int]int64)
	for _, c := range children {
		sum.RegisteredMen += c.Totals.RegisteredMen
		sum.RegisteredWomen += c.Totals.RegisteredWomen
		sum.Registered += c.Totals.Registered
		sum.VotersMen += c.Totals.VotersMen
		sum.VotersWomen += c.Totals.VotersWomen
		sum.Voters += c.Totals.Voters
		sum.NullBallots += c.Totals.NullBallots
		sum.Expressed += c.Totals.Expressed
		sum.BlankBallots += c.Totals.BlankBallots
		cells += c.Coverage.TotalCells
		for _, cand := range c.Candidates {
			slots[cand.Slot] += cand.Score
		}
	}

	fields := []struct {
		name             string
		expected, actual int64
	}{
		{"cells", int64(parent.Coverage.TotalCells), int64(cells)},
		{"registered_men", parent.Totals.RegisteredMen, sum.RegisteredMen},
		{"registered_women", parent.Totals.RegisteredWomen, sum.RegisteredWomen},
		{"registered", parent.Totals.Registered, sum.Registered},
		{"voters_men", parent.Totals.VotersMen, sum.VotersMen},
		{"voters_women", parent.Totals.VotersWomen, sum.VotersWomen},
		{"voters", parent.Totals.Voters, sum.Voters},
		{"null_ballots", parent.Totals.NullBallots, sum.NullBallots},
		{"expressed", parent.Totals.Expressed, sum.Expressed},
		{"blank_ballots", parent.Totals.BlankBallots, sum.BlankBallots},
	}

	parentSlots := make(map[int]int64)
	for _, cand := range parent.Candidates {
		parentSlots[cand.Slot] = cand.Score
	}
	for slot := 1; slot <= contracts.MaxCandidateSlots; slot++ {
		if parentSlots[slot] != slots[slot] {
			fields = append(fields, struct {
				name             string
				expected, actual int64
			}{fmt.Sprintf("slot_%d", slot), parentSlots[slot], slots[slot]})
		}
	}

	var out []Mismatch
	for _, f := range fields {
		if f.expected != f.actual {
			out = append(out, Mismatch{
				Parent:     parentKey,
				ChildLevel: childLevel,
				Field:      f.name,
				Expected:   f.expected,
				Actual:     f.actual,
			})
		}
	}
	return out
}
