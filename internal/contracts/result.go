package contracts

import (
	"fmt"
	"time"
)

// Totals are the raw sums over every counted row of every eligible cell
type Totals struct {
	RegisteredMen   int64 `json:"registered_men"`
	RegisteredWomen int64 `json:"registered_women"`
	Registered      int64 `json:"registered"`
	VotersMen       int64 `json:"voters_men"`
	VotersWomen     int64 `json:"voters_women"`
	Voters          int64 `json:"voters"`
	NullBallots     int64 `json:"null_ballots"`
	Expressed       int64 `json:"expressed"`
	BlankBallots    int64 `json:"blank_ballots"`
}

// Add accumulates one ledger row
func (t *Totals) Add(r *LedgerRow) {
	t.RegisteredMen += r.RegisteredMen
	t.RegisteredWomen += r.RegisteredWomen
	t.Registered += r.Registered
	t.VotersMen += r.VotersMen
	t.VotersWomen += r.VotersWomen
	t.Voters += r.Voters
	t.NullBallots += r.NullBallots
	t.Expressed += r.Expressed
	t.BlankBallots += r.BlankBallots
}

// Rates are percentages rounded to 2 places (60.25 means 60.25%)
type Rates struct {
	Turnout      float64 `json:"turnout"`
	NullBallots  float64 `json:"null_ballots"`
	BlankBallots float64 `json:"blank_ballots"`
}

// CandidateResult is one candidate's share within a scope
type CandidateResult struct {
	Slot       int      `json:"slot"`
	Name       string   `json:"name"`
	Sponsor    *Sponsor `json:"sponsor,omitempty"`
	Score      int64    `json:"score"`
	Percentage float64  `json:"percentage"`
}

// Coverage reports which cells contributed. Partial results always carry
// explicit counts; nothing is silently omitted.
type Coverage struct {
	TotalCells        int      `json:"total_cells"`
	EligibleCells     int      `json:"eligible_cells"`
	PublishedCells    int      `json:"published_cells"`
	PendingCells      int      `json:"pending_cells"`
	PendingCellCodes  []string `json:"pending_cell_codes"`
	InconsistentCells []string `json:"inconsistent_cells"`
	WithheldCells     []string `json:"withheld_cells,omitempty"` // not published, left out of the totals
	DeclaredStations  int      `json:"declared_stations"`
	CountedRows       int      `json:"counted_rows"`
	SkippedRows       int      `json:"skipped_rows"`
}

// AggregateResult is the output of one aggregation
type AggregateResult struct {
	Scope      UnitRef           `json:"scope"`
	Totals     Totals            `json:"totals"`
	Rates      Rates             `json:"rates"`
	Candidates []CandidateResult `json:"candidates"`
	Coverage   Coverage          `json:"coverage"`
	NoData     bool              `json:"no_data"`
	Narrowed   bool              `json:"narrowed"` // visibility restricted the cell set
	Revision   int64             `json:"revision"`
	AsOf       time.Time         `json:"as_of"` // time of the last write seen by this read
}

// ResolutionKind tags a catalog lookup outcome
type ResolutionKind int

const (
	Unresolved ResolutionKind = iota
	Resolved
	Ambiguous
)

// Resolution is the tagged result of resolving a scope key.
// Callers must switch on Kind; there is no implicit first match.
type Resolution struct {
	Kind    ResolutionKind
	Input   string
	Unit    *GeoUnit   // set when Kind == Resolved
	Matches []*GeoUnit // set when Kind == Ambiguous
	Invalid error      // malformed input; Kind stays Unresolved
}

// Err converts a non-resolved outcome into the matching error
func (r Resolution) Err() error {
	switch r.Kind {
	case Resolved:
		return nil
	case Ambiguous:
		refs := make([]UnitRef, len(r.Matches))
		for i, m := range r.Matches {
			refs[i] = m.Ref()
		}
		return &AmbiguousError{Input: r.Input, Matches: refs}
	default:
		if r.Invalid != nil {
			return r.Invalid
		}
		return fmt.Errorf("%w: scope %q", ErrNotFound, r.Input)
	}
}
