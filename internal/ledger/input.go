package ledger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonny/tally/internal/contracts"
)

// RowInput is the wire shape of one row handed over by the import pipeline.
// Scores is positional: index 0 is candidate slot 1.
type RowInput struct {
	RowNo       int    `yaml:"row_no" json:"row_no"`
	VotingPlace string `yaml:"voting_place" json:"voting_place"`
	Station     string `yaml:"station" json:"station"`
	Status      string `yaml:"status" json:"status"`

	RegisteredMen   int64 `yaml:"registered_men" json:"registered_men"`
	RegisteredWomen int64 `yaml:"registered_women" json:"registered_women"`
	Registered      int64 `yaml:"registered" json:"registered"`

	VotersMen   int64 `yaml:"voters_men" json:"voters_men"`
	VotersWomen int64 `yaml:"voters_women" json:"voters_women"`
	Voters      int64 `yaml:"voters" json:"voters"`

	TurnoutRate float64 `yaml:"turnout_rate" json:"turnout_rate"`

	NullBallots  int64 `yaml:"null_ballots" json:"null_ballots"`
	Expressed    int64 `yaml:"expressed" json:"expressed"`
	BlankBallots int64 `yaml:"blank_ballots" json:"blank_ballots"`

	Scores []int64 `yaml:"scores" json:"scores"`
}

// BatchInput is a finalized set of rows for one cell
type BatchInput struct {
	Cell   string     `yaml:"cell" json:"cell"`
	Source string     `yaml:"source" json:"source"`
	Rows   []RowInput `yaml:"rows" json:"rows"`
}

// LoadBatchFile reads a YAML (or JSON) batch file
func LoadBatchFile(path string) (*BatchInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var in BatchInput
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode batch file: %w", err)
	}
	if in.Source == "" {
		in.Source = filepath.Base(path)
	}

	return &in, nil
}

// ToBatch converts the wire form into a ledger batch. Missing row numbers
// are assigned in order; a missing status means completed.
func (in BatchInput) ToBatch(actor string) (contracts.ImportBatch, error) {
	batch := contracts.ImportBatch{
		CellCode: in.Cell,
		Source:   in.Source,
		Actor:    actor,
		Rows:     make([]contracts.LedgerRow, 0, len(in.Rows)),
	}

	for i, r := range in.Rows {
		if len(r.Scores) > contracts.MaxCandidateSlots {
			return batch, &contracts.ValidationError{
				CellCode: in.Cell,
				Problems: []string{fmt.Sprintf("row %d: %d scores exceed %d candidate slots", i+1, len(r.Scores), contracts.MaxCandidateSlots)},
			}
		}

		row := contracts.LedgerRow{
			CellCode:        in.Cell,
			RowNo:           r.RowNo,
			VotingPlace:     r.VotingPlace,
			Station:         r.Station,
			Status:          contracts.ImportStatus(strings.ToLower(strings.TrimSpace(r.Status))),
			RegisteredMen:   r.RegisteredMen,
			RegisteredWomen: r.RegisteredWomen,
			Registered:      r.Registered,
			VotersMen:       r.VotersMen,
			VotersWomen:     r.VotersWomen,
			Voters:          r.Voters,
			TurnoutRate:     r.TurnoutRate,
			NullBallots:     r.NullBallots,
			Expressed:       r.Expressed,
			BlankBallots:    r.BlankBallots,
		}
		if row.RowNo == 0 {
			row.RowNo = i + 1
		}
		if row.Status == "" {
			row.Status = contracts.ImportCompleted
		}
		copy(row.Scores[:], r.Scores)

		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}
