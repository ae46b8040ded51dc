package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/cellstate"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/logger"
)

// Importer is the boundary where the import pipeline hands over validated
// batches. It owns generation ids and the cell transitions tied to imports.
type Importer struct {
	store   contracts.LedgerRepository
	catalog *catalog.Holder
	logger  *logger.Logger
	newID   func() string
}

// NewImporter creates a new importer
func NewImporter(store contracts.LedgerRepository, holder *catalog.Holder, log *logger.Logger) *Importer {
	return &Importer{
		store:   store,
		catalog: holder,
		logger:  log.Component("ledger.importer"),
		newID:   uuid.NewString,
	}
}

// RulesFor derives row rules from the catalog's candidate slots
func RulesFor(cat *catalog.Catalog) Rules {
	rules := Rules{}
	for _, c := range cat.Candidates() {
		if c.Slot > rules.Slots {
			rules.Slots = c.Slot
		}
	}
	return rules
}

// Import validates batch and atomically replaces the cell's rows with it.
// A batch that fails validation leaves status and rows untouched and is
// recorded in the cell's history. A published cell must be withdrawn first.
func (i *Importer) Import(ctx context.Context, batch contracts.ImportBatch) (*contracts.ImportReceipt, error) {
	cat := i.catalog.Current()
	if _, ok := cat.Cell(batch.CellCode); !ok {
		return nil, fmt.Errorf("%w: cell %s", contracts.ErrNotFound, batch.CellCode)
	}

	log := i.logger.WithFields(logger.Fields{
		"cell":   batch.CellCode,
		"source": batch.Source,
		"actor":  batch.Actor,
		"rows":   len(batch.Rows),
	})

	if err := ValidateBatch(batch, RulesFor(cat)); err != nil {
		log.WithError(err).Warn("Import rejected")
		i.recordFailure(ctx, batch, err)
		return nil, err
	}

	generation := i.newID()
	receipt, err := i.store.ReplaceImport(ctx, batch, generation, cellstate.Decide(cellstate.ImportSucceeded))
	if err != nil {
		if errors.Is(err, contracts.ErrPublishedLocked) {
			log.Warn("Import refused on published cell")
			i.recordFailure(ctx, batch, err)
		}
		return nil, fmt.Errorf("replace import: %w", err)
	}

	log.WithFields(logger.Fields{
		"generation": generation,
		"from":       receipt.PreviousStatus,
		"to":         receipt.Status,
		"replaced":   receipt.Replaced,
		"revision":   receipt.Revision,
	}).Info("Cell imported")

	return receipt, nil
}

func (i *Importer) recordFailure(ctx context.Context, batch contracts.ImportBatch, cause error) {
	if err := i.store.RecordFailure(ctx, batch, cause.Error()); err != nil {
		i.logger.WithError(err).WithField("cell", batch.CellCode).Error("Failed to record import failure")
	}
}

// Release moves Imported cells to Published. Cells that cannot move are
// reported in Skipped; the rest change in one transaction.
func (i *Importer) Release(ctx context.Context, codes []string, actor string) (*contracts.TransitionReport, error) {
	return i.transition(ctx, codes, cellstate.Release, contracts.OutcomeReleased, actor)
}

// ReleaseUnit releases every cell under unit
func (i *Importer) ReleaseUnit(ctx context.Context, unit *contracts.GeoUnit, actor string) (*contracts.TransitionReport, error) {
	return i.Release(ctx, i.catalog.Current().DescendantCells(unit), actor)
}

// Withdraw returns a published cell to Imported so it can be re-imported.
// Unlike Release, a cell that cannot move is an error.
func (i *Importer) Withdraw(ctx context.Context, code string, actor string) (*contracts.TransitionReport, error) {
	report, err := i.transition(ctx, []string{code}, cellstate.Withdraw, contracts.OutcomeWithdrawn, actor)
	if err != nil {
		return nil, err
	}
	if reason, skipped := report.Skipped[code]; skipped {
		if reason == contracts.ErrNotFound.Error() {
			return nil, fmt.Errorf("%w: cell %s", contracts.ErrNotFound, code)
		}
		return nil, fmt.Errorf("%w: cell %s: %s", contracts.ErrInvalidTransition, code, reason)
	}
	return report, nil
}

func (i *Importer) transition(ctx context.Context, codes []string, event cellstate.Event, outcome contracts.ImportOutcome, actor string) (*contracts.TransitionReport, error) {
	cat := i.catalog.Current()

	known := make([]string, 0, len(codes))
	unknown := make(map[string]string)
	for _, code := range dedupe(codes) {
		if _, ok := cat.Cell(code); ok {
			known = append(known, code)
		} else {
			unknown[code] = contracts.ErrNotFound.Error()
		}
	}

	report, err := i.store.Transition(ctx, known, cellstate.Decide(event), outcome, actor)
	if err != nil {
		return nil, fmt.Errorf("%s cells: %w", event, err)
	}
	for code, reason := range unknown {
		report.Skipped[code] = reason
	}

	i.logger.WithFields(logger.Fields{
		"event":    string(event),
		"actor":    actor,
		"changed":  len(report.Changed),
		"skipped":  len(report.Skipped),
		"revision": report.Revision,
	}).Info("Cell transition applied")

	return report, nil
}

// History returns the latest events of a cell
func (i *Importer) History(ctx context.Context, code string, limit int) ([]contracts.ImportEvent, error) {
	if _, ok := i.catalog.Current().Cell(code); !ok {
		return nil, fmt.Errorf("%w: cell %s", contracts.ErrNotFound, code)
	}
	return i.store.History(ctx, code, limit)
}
