package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/wonny/tally/pkg/logger"
)

// Source loads reference data for the catalog
type Source interface {
	Load(ctx context.Context) (*Seed, error)
}

// FileSource loads a YAML seed file on every call
type FileSource struct {
	Path string
}

// Load implements Source
func (s FileSource) Load(ctx context.Context) (*Seed, error) {
	return LoadSeedFile(s.Path)
}

// Holder is the handle through which components reach the current catalog.
// The catalog itself is immutable; refreshes swap the pointer.
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder creates a holder around an initial catalog
func NewHolder(initial *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(initial)
	return h
}

// Current returns the catalog in effect
func (h *Holder) Current() *Catalog {
	return h.current.Load()
}

// Swap installs next and returns the previous catalog
func (h *Holder) Swap(next *Catalog) *Catalog {
	return h.current.Swap(next)
}

// Refresher rebuilds the catalog from a Source
type Refresher struct {
	source Source
	holder *Holder
	logger *logger.Logger
}

// NewRefresher creates a new refresher
func NewRefresher(source Source, holder *Holder, log *logger.Logger) *Refresher {
	return &Refresher{
		source: source,
		holder: holder,
		logger: log.WithField("component", "catalog.refresher"),
	}
}

// Open loads the source once and returns a holder for it
func Open(ctx context.Context, source Source) (*Holder, error) {
	seed, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	cat, err := Build(seed)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	return NewHolder(cat), nil
}

// Refresh reloads the source and swaps the catalog when the seed changed.
// A seed that fails validation keeps the previous catalog in place.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	seed, err := r.source.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load catalog: %w", err)
	}

	hash, err := Hash(seed)
	if err != nil {
		return false, fmt.Errorf("hash seed: %w", err)
	}

	if current := r.holder.Current(); current != nil && current.Hash() == hash {
		r.logger.Debug("Catalog unchanged")
		return false, nil
	}

	next, err := Build(seed)
	if err != nil {
		if errors.Is(err, ErrInvalidSeed) {
			r.logger.WithError(err).Error("Rejected catalog refresh, keeping previous catalog")
		}
		return false, err
	}

	r.holder.Swap(next)

	stats := next.Stats()
	r.logger.WithFields(map[string]interface{}{
		"hash":       stats.Hash[:12],
		"cells":      stats.Cells,
		"candidates": stats.Candidates,
	}).Info("Catalog refreshed")

	return true, nil
}
