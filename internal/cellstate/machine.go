// Package cellstate is the per-cell lifecycle Pending -> Imported -> Published.
package cellstate

import (
	"fmt"

	"github.com/wonny/tally/internal/contracts"
)

// Event drives a cell transition
type Event string

const (
	ImportSucceeded Event = "import_succeeded" // 검증 완료된 행 일괄 수신
	ImportFailed    Event = "import_failed"
	Release         Event = "release"  // 공표
	Withdraw        Event = "withdraw" // 공표 철회 (권한 필요)
)

// Next returns the status reached from `from` on event.
//
//	Pending   --ImportSucceeded--> Imported
//	Imported  --ImportSucceeded--> Imported   (rows replaced)
//	Published --ImportSucceeded--> ErrPublishedLocked
//	*         --ImportFailed-----> unchanged
//	Imported  --Release----------> Published
//	Published --Release----------> Published  (no-op)
//	Published --Withdraw---------> Imported
//
// Every other combination is ErrInvalidTransition.
func Next(from contracts.CellStatus, event Event) (contracts.CellStatus, error) {
	if !from.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", contracts.ErrInvalidTransition, from)
	}

	switch event {
	case ImportSucceeded:
		if from == contracts.CellPublished {
			return from, contracts.ErrPublishedLocked
		}
		return contracts.CellImported, nil

	case ImportFailed:
		return from, nil

	case Release:
		switch from {
		case contracts.CellImported, contracts.CellPublished:
			return contracts.CellPublished, nil
		}

	case Withdraw:
		if from == contracts.CellPublished {
			return contracts.CellImported, nil
		}
	}

	return from, fmt.Errorf("%w: %s on %s cell", contracts.ErrInvalidTransition, event, from)
}

// Decide adapts Next to the store's transactional callback
func Decide(event Event) contracts.TransitionFunc {
	return func(from contracts.CellStatus) (contracts.CellStatus, error) {
		return Next(from, event)
	}
}

// Eligible reports whether a cell's rows count in aggregation
func Eligible(status contracts.CellStatus) bool {
	return status == contracts.CellImported || status == contracts.CellPublished
}
