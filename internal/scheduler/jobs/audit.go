package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/pkg/logger"
)

// ConsistencyAuditJob re-derives roll-ups from the ledger and checks that
// every level sums to its parent
type ConsistencyAuditJob struct {
	auditor  *tally.Auditor
	schedule string
	logger   *logger.Logger

	mu   sync.RWMutex
	last *tally.AuditReport
}

// NewConsistencyAuditJob creates a new audit job
func NewConsistencyAuditJob(auditor *tally.Auditor, schedule string, log *logger.Logger) *ConsistencyAuditJob {
	return &ConsistencyAuditJob{
		auditor:  auditor,
		schedule: schedule,
		logger:   log.Component("jobs.consistency_audit"),
	}
}

// Name returns the job name
func (j *ConsistencyAuditJob) Name() string {
	return "consistency_audit"
}

// Schedule returns the cron schedule
func (j *ConsistencyAuditJob) Schedule() string {
	return j.schedule
}

// Run executes the audit. Mismatches are findings, not job failures;
// only a failure to read the ledger is an error.
func (j *ConsistencyAuditJob) Run(ctx context.Context) error {
	report, err := j.auditor.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	return nil
}

// Summary describes the findings of the last report
func (j *ConsistencyAuditJob) Summary() string {
	report := j.LastReport()
	if report == nil {
		return ""
	}
	if report.OK() {
		return fmt.Sprintf("%d checks, no findings", report.Checks)
	}
	return fmt.Sprintf("%d checks, %d mismatches, %d inconsistent cells",
		report.Checks, len(report.Mismatches), len(report.InconsistentCells))
}

// LastReport returns the most recent report, or nil before the first run
func (j *ConsistencyAuditJob) LastReport() *tally.AuditReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}
