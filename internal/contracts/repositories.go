package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: Repository 인터페이스 정의는 여기서만

// TransitionFunc decides the next status of a cell inside the store's
// transaction. Returning an error leaves the cell untouched.
type TransitionFunc func(from CellStatus) (CellStatus, error)

// LedgerRepository persists cell statuses and ledger rows.
// Every mutation is atomic per cell: readers see the old generation or the
// new one, never a mix, and never a status without its rows.
type LedgerRepository interface {
	// Snapshot reads status and current-generation rows for codes at one revision
	Snapshot(ctx context.Context, codes []string) (*LedgerSnapshot, error)
	// Revision returns the current store revision
	Revision(ctx context.Context) (int64, error)
	// ReplaceImport swaps the cell's rows for batch under a new generation
	ReplaceImport(ctx context.Context, batch ImportBatch, generation string, decide TransitionFunc) (*ImportReceipt, error)
	// RecordFailure notes a failed import without touching status or rows
	RecordFailure(ctx context.Context, batch ImportBatch, reason string) error
	// Transition applies decide to every cell in codes within one transaction
	Transition(ctx context.Context, codes []string, decide TransitionFunc, outcome ImportOutcome, actor string) (*TransitionReport, error)
	// History returns the latest events of a cell, newest first
	History(ctx context.Context, code string, limit int) ([]ImportEvent, error)
}

// TransitionReport lists what a bulk transition changed
type TransitionReport struct {
	Changed  []string          `json:"changed"`
	Skipped  map[string]string `json:"skipped"` // cell code -> reason
	Revision int64             `json:"revision"`
	At       time.Time         `json:"at"`
}

// PublicationRepository persists publication flags
type PublicationRepository interface {
	// Flags returns the explicit flags among keys
	Flags(ctx context.Context, keys []string) (map[string]PublicationFlag, error)
	// SetFlag upserts a flag
	SetFlag(ctx context.Context, flag PublicationFlag) error
	// ListFlags returns every explicit flag ordered by key
	ListFlags(ctx context.Context) ([]PublicationFlag, error)
}
