package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/pkg/logger"
)

// CatalogRefreshJob reloads reference data and swaps the catalog when it
// changed
// ⭐ SSOT: 카탈로그 갱신 스케줄은 이 Job에서만
type CatalogRefreshJob struct {
	refresher *catalog.Refresher
	holder    *catalog.Holder
	schedule  string
	logger    *logger.Logger

	mu      sync.Mutex
	summary string
}

// NewCatalogRefreshJob creates a new catalog refresh job
func NewCatalogRefreshJob(refresher *catalog.Refresher, holder *catalog.Holder, schedule string, log *logger.Logger) *CatalogRefreshJob {
	return &CatalogRefreshJob{
		refresher: refresher,
		holder:    holder,
		schedule:  schedule,
		logger:    log.Component("jobs.catalog_refresh"),
	}
}

// Name returns the job name
func (j *CatalogRefreshJob) Name() string {
	return "catalog_refresh"
}

// Schedule returns the cron schedule
func (j *CatalogRefreshJob) Schedule() string {
	return j.schedule
}

// Run executes the refresh
func (j *CatalogRefreshJob) Run(ctx context.Context) error {
	changed, err := j.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	summary := "catalog unchanged"
	if changed {
		summary = fmt.Sprintf("catalog swapped to %.12s", j.holder.Current().Hash())
	}
	j.mu.Lock()
	j.summary = summary
	j.mu.Unlock()

	j.logger.WithField("changed", changed).Debug("Catalog refresh finished")
	return nil
}

// Summary describes the last successful refresh
func (j *CatalogRefreshJob) Summary() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary
}
