package contracts

import "time"

// MaxCandidateSlots is the fixed width of the per-candidate score array
const MaxCandidateSlots = 16

// ImportStatus is the per-row status assigned by the import pipeline
type ImportStatus string

const (
	ImportCompleted ImportStatus = "completed"
	ImportPartial   ImportStatus = "partial"
	ImportRejected  ImportStatus = "rejected"
)

// LedgerRow is one polling-station level submission for a cell.
// Missing numeric fields are zero.
type LedgerRow struct {
	CellCode    string       `json:"cell_code"`
	Generation  string       `json:"generation,omitempty"`
	RowNo       int          `json:"row_no"`
	VotingPlace string       `json:"voting_place,omitempty"`
	Station     string       `json:"station,omitempty"`
	Status      ImportStatus `json:"status"`

	RegisteredMen   int64 `json:"registered_men"`
	RegisteredWomen int64 `json:"registered_women"`
	Registered      int64 `json:"registered"`

	VotersMen   int64 `json:"voters_men"`
	VotersWomen int64 `json:"voters_women"`
	Voters      int64 `json:"voters"`

	// TurnoutRate is informative only; aggregation recomputes it
	TurnoutRate float64 `json:"turnout_rate"`

	NullBallots  int64 `json:"null_ballots"`
	Expressed    int64 `json:"expressed"`
	BlankBallots int64 `json:"blank_ballots"`

	Scores [MaxCandidateSlots]int64 `json:"scores"`
}

// Counted reports whether the row takes part in aggregation
func (r *LedgerRow) Counted() bool {
	return r.Status == ImportCompleted
}

// ScoreTotal sums all candidate slots
func (r *LedgerRow) ScoreTotal() int64 {
	var total int64
	for _, s := range r.Scores {
		total += s
	}
	return total
}

// ImportBatch is the finalized set of rows for one cell handed over by the
// import pipeline
type ImportBatch struct {
	CellCode string      `json:"cell_code"`
	Source   string      `json:"source"` // original file name
	Actor    string      `json:"actor"`
	Rows     []LedgerRow `json:"rows"`
}

// ImportReceipt is returned after a successful import
type ImportReceipt struct {
	CellCode       string     `json:"cell_code"`
	Generation     string     `json:"generation"`
	PreviousStatus CellStatus `json:"previous_status"`
	Status         CellStatus `json:"status"`
	Rows           int        `json:"rows"`
	Replaced       int        `json:"replaced"` // rows of the superseded generation
	Revision       int64      `json:"revision"`
}

// ImportOutcome labels an entry of a cell's history
type ImportOutcome string

const (
	OutcomeImported  ImportOutcome = "imported"
	OutcomeRejected  ImportOutcome = "rejected"
	OutcomeReleased  ImportOutcome = "released"
	OutcomeWithdrawn ImportOutcome = "withdrawn"
)

// ImportEvent is one entry of a cell's history
type ImportEvent struct {
	CellCode   string        `json:"cell_code"`
	Generation string        `json:"generation,omitempty"`
	Outcome    ImportOutcome `json:"outcome"`
	Actor      string        `json:"actor,omitempty"`
	Source     string        `json:"source,omitempty"`
	Message    string        `json:"message,omitempty"`
	At         time.Time     `json:"at"`
}
