package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ⭐ SSOT: 엔진 오류 분류는 여기서만 정의
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAmbiguous          = errors.New("ambiguous scope")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInconsistentImport = errors.New("inconsistent import")
	ErrInvalidTransition  = errors.New("invalid cell transition")
	ErrPublishedLocked    = errors.New("cell is published; withdraw it before re-import")
)

// AmbiguousError carries every unit matched by a partial key
type AmbiguousError struct {
	Input   string
	Matches []UnitRef
}

func (e *AmbiguousError) Error() string {
	keys := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		keys[i] = m.Key
	}
	return fmt.Sprintf("%s: %q matches %d units [%s]", ErrAmbiguous, e.Input, len(e.Matches), strings.Join(keys, ", "))
}

// Unwrap lets errors.Is match ErrAmbiguous
func (e *AmbiguousError) Unwrap() error {
	return ErrAmbiguous
}

// ValidationError lists every row problem found at the import boundary
type ValidationError struct {
	CellCode string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: cell %s: %s", ErrInconsistentImport, e.CellCode, strings.Join(e.Problems, "; "))
}

// Unwrap lets errors.Is match ErrInconsistentImport
func (e *ValidationError) Unwrap() error {
	return ErrInconsistentImport
}
