package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/tally/internal/contracts"
)

const maxMemoryHistory = 50

type memCell struct {
	status      contracts.CellStatus
	generation  string
	rows        []contracts.LedgerRow
	importedAt  *time.Time
	publishedAt *time.Time
	lastError   string
	history     []contracts.ImportEvent // newest last
}

// MemoryStore is an in-process LedgerRepository.
// One RWMutex serializes writers, so every snapshot is taken at a single
// revision, matching the isolation of the Postgres repository.
type MemoryStore struct {
	mu       sync.RWMutex
	cells    map[string]*memCell
	revision int64
	asOf     time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty store; unknown cells read as pending
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells: make(map[string]*memCell),
		now:   time.Now,
	}
}

// WithClock replaces the time source (tests)
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) cell(code string) *memCell {
	c, ok := s.cells[code]
	if !ok {
		c = &memCell{status: contracts.CellPending}
		s.cells[code] = c
	}
	return c
}

func (s *MemoryStore) bump() time.Time {
	now := s.now().UTC()
	s.revision++
	s.asOf = now
	return now
}

func (c *memCell) record(ev contracts.ImportEvent) {
	c.history = append(c.history, ev)
	if len(c.history) > maxMemoryHistory {
		c.history = c.history[len(c.history)-maxMemoryHistory:]
	}
}

// Snapshot implements contracts.LedgerRepository
func (s *MemoryStore) Snapshot(ctx context.Context, codes []string) (*contracts.LedgerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &contracts.LedgerSnapshot{
		Cells:    make(map[string]contracts.CellLedger, len(codes)),
		Revision: s.revision,
		AsOf:     s.asOf,
	}
	for _, code := range codes {
		c, ok := s.cells[code]
		if !ok {
			continue
		}
		entry := contracts.CellLedger{
			Code:        code,
			Status:      c.status,
			Generation:  c.generation,
			ImportedAt:  c.importedAt,
			PublishedAt: c.publishedAt,
			LastError:   c.lastError,
		}
		if len(c.rows) > 0 {
			entry.Rows = make([]contracts.LedgerRow, len(c.rows))
			copy(entry.Rows, c.rows)
		}
		snap.Cells[code] = entry
	}

	return snap, nil
}

// Revision implements contracts.LedgerRepository
func (s *MemoryStore) Revision(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

// ReplaceImport implements contracts.LedgerRepository
func (s *MemoryStore) ReplaceImport(ctx context.Context, batch contracts.ImportBatch, generation string, decide contracts.TransitionFunc) (*contracts.ImportReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cell(batch.CellCode)
	from := c.status
	to, err := decide(from)
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", batch.CellCode, err)
	}

	rows := make([]contracts.LedgerRow, len(batch.Rows))
	for i, r := range batch.Rows {
		r.CellCode = batch.CellCode
		r.Generation = generation
		rows[i] = r
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowNo < rows[j].RowNo })

	replaced := len(c.rows)
	now := s.bump()

	c.rows = rows
	c.generation = generation
	c.status = to
	c.importedAt = &now
	c.lastError = ""
	c.record(contracts.ImportEvent{
		CellCode:   batch.CellCode,
		Generation: generation,
		Outcome:    contracts.OutcomeImported,
		Actor:      batch.Actor,
		Source:     batch.Source,
		Message:    fmt.Sprintf("%d rows", len(rows)),
		At:         now,
	})

	return &contracts.ImportReceipt{
		CellCode:       batch.CellCode,
		Generation:     generation,
		PreviousStatus: from,
		Status:         to,
		Rows:           len(rows),
		Replaced:       replaced,
		Revision:       s.revision,
	}, nil
}

// RecordFailure implements contracts.LedgerRepository.
// Status and rows are untouched, so the revision does not move.
func (s *MemoryStore) RecordFailure(ctx context.Context, batch contracts.ImportBatch, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cell(batch.CellCode)
	c.lastError = reason
	c.record(contracts.ImportEvent{
		CellCode: batch.CellCode,
		Outcome:  contracts.OutcomeRejected,
		Actor:    batch.Actor,
		Source:   batch.Source,
		Message:  reason,
		At:       s.now().UTC(),
	})
	return nil
}

// Transition implements contracts.LedgerRepository
func (s *MemoryStore) Transition(ctx context.Context, codes []string, decide contracts.TransitionFunc, outcome contracts.ImportOutcome, actor string) (*contracts.TransitionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &contracts.TransitionReport{Skipped: make(map[string]string)}

	type change struct {
		cell *memCell
		code string
		to   contracts.CellStatus
	}
	var changes []change
	for _, code := range dedupe(codes) {
		c := s.cell(code)
		to, err := decide(c.status)
		if err != nil {
			report.Skipped[code] = err.Error()
			continue
		}
		if to == c.status {
			report.Skipped[code] = "unchanged"
			continue
		}
		changes = append(changes, change{cell: c, code: code, to: to})
	}

	if len(changes) == 0 {
		report.Revision = s.revision
		report.At = s.asOf
		return report, nil
	}

	now := s.bump()
	for _, ch := range changes {
		ch.cell.status = ch.to
		if ch.to == contracts.CellPublished {
			ch.cell.publishedAt = &now
		} else {
			ch.cell.publishedAt = nil
		}
		ch.cell.record(contracts.ImportEvent{
			CellCode:   ch.code,
			Generation: ch.cell.generation,
			Outcome:    outcome,
			Actor:      actor,
			At:         now,
		})
		report.Changed = append(report.Changed, ch.code)
	}
	report.Revision = s.revision
	report.At = now

	return report, nil
}

// History implements contracts.LedgerRepository
func (s *MemoryStore) History(ctx context.Context, code string, limit int) ([]contracts.ImportEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cells[code]
	if !ok {
		return nil, nil
	}
	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}

	out := make([]contracts.ImportEvent, 0, limit)
	for i := len(c.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.history[i])
	}
	return out, nil
}

// dedupe returns codes sorted without duplicates.
// Sorting also fixes the lock order of the Postgres repository.
func dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
