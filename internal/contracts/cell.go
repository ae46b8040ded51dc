package contracts

import (
	"fmt"
	"strings"
	"time"
)

// CellStatus is the lifecycle state of a collection cell (CEL)
type CellStatus string

const (
	CellPending   CellStatus = "pending"   // 데이터 미수신
	CellImported  CellStatus = "imported"  // 검증 완료
	CellPublished CellStatus = "published" // 공표됨
)

// Valid reports whether s is a known status
func (s CellStatus) Valid() bool {
	switch s {
	case CellPending, CellImported, CellPublished:
		return true
	}
	return false
}

// ParseCellStatus normalizes a stored status string
func ParseCellStatus(s string) (CellStatus, error) {
	status := CellStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown cell status %q", s)
	}
	return status, nil
}

// CellPath is the full geographic path a cell belongs to.
// All three codes are always present; a partial path is a catalog error.
type CellPath struct {
	Department    string `json:"department" yaml:"department"`
	SubPrefecture string `json:"sub_prefecture" yaml:"sub_prefecture"`
	Commune       string `json:"commune" yaml:"commune"`
}

// CommuneKey returns the composite key of the owning commune
func (p CellPath) CommuneKey() string {
	return JoinKey(p.Department, p.SubPrefecture, p.Commune)
}

// Complete reports whether every segment of the path is set
func (p CellPath) Complete() bool {
	return p.Department != "" && p.SubPrefecture != "" && p.Commune != ""
}

// Cell is a collection unit aggregating one or more polling stations
type Cell struct {
	Code         string   `json:"code"`
	Label        string   `json:"label"`
	StationCount int      `json:"station_count"`
	Path         CellPath `json:"path"`
	VotingPlaces []string `json:"voting_places"` // composite voting place keys
}

// CellLedger is the ledger state of one cell at a store revision
type CellLedger struct {
	Code        string      `json:"code"`
	Status      CellStatus  `json:"status"`
	Generation  string      `json:"generation,omitempty"`
	Rows        []LedgerRow `json:"rows,omitempty"`
	ImportedAt  *time.Time  `json:"imported_at,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// LedgerSnapshot is a consistent read of many cells.
// Cells absent from the ledger are reported as pending by the reader.
type LedgerSnapshot struct {
	Cells    map[string]CellLedger
	Revision int64
	AsOf     time.Time
}

// Cell returns the ledger entry of code, defaulting to pending
func (s *LedgerSnapshot) Cell(code string) CellLedger {
	if c, ok := s.Cells[code]; ok {
		return c
	}
	return CellLedger{Code: code, Status: CellPending}
}
