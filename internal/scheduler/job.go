package scheduler

import (
	"context"
	"time"
)

// Job is a background task of the engine (catalog refresh, consistency audit)
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string
	Run(ctx context.Context) error

	// Schedule is a cron expression with a seconds field,
	// e.g. "0 */5 * * * *" or "@hourly"
	Schedule() string
}

// Summarizer is implemented by jobs that can describe their last run in one
// line, e.g. "catalog unchanged" or "2 mismatches". The scheduler keeps the
// line with the run record.
type Summarizer interface {
	Summary() string
}

// RunRecord is one execution of a job, retries included
type RunRecord struct {
	Job      string        `json:"job"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"` // previous run still in progress
	Error    string        `json:"error,omitempty"`
	Summary  string        `json:"summary,omitempty"`
}

// runLogSize bounds the records kept per job
const runLogSize = 100

// runLog is a fixed-size ring of run records, oldest overwritten first.
// Skipped runs are not recorded. Callers hold the scheduler lock.
type runLog struct {
	records [runLogSize]RunRecord
	next    int
	count   int

	successes   int
	lastSuccess *time.Time
	lastFailure *time.Time
}

func (l *runLog) record(r RunRecord) {
	if l.count == runLogSize {
		if l.records[l.next].Success {
			l.successes--
		}
	} else {
		l.count++
	}

	l.records[l.next] = r
	l.next = (l.next + 1) % runLogSize

	at := r.Started
	if r.Success {
		l.successes++
		l.lastSuccess = &at
	} else {
		l.lastFailure = &at
	}
}

// latest returns up to n records, newest last
func (l *runLog) latest(n int) []RunRecord {
	if n > l.count {
		n = l.count
	}
	out := make([]RunRecord, 0, max(n, 0))
	for i := n; i > 0; i-- {
		out = append(out, l.records[(l.next-i+runLogSize)%runLogSize])
	}
	return out
}

func (l *runLog) last() *RunRecord {
	if l.count == 0 {
		return nil
	}
	r := l.records[(l.next-1+runLogSize)%runLogSize]
	return &r
}

// JobStats summarizes the recorded runs of one job
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastSummary  string     `json:"last_summary,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

func (l *runLog) stats(job Job) JobStats {
	st := JobStats{
		JobName:      job.Name(),
		Schedule:     job.Schedule(),
		TotalRuns:    l.count,
		SuccessCount: l.successes,
		FailureCount: l.count - l.successes,
		LastSuccess:  l.lastSuccess,
		LastFailure:  l.lastFailure,
	}
	if l.count > 0 {
		st.SuccessRate = float64(l.successes) / float64(l.count)
	}
	if r := l.last(); r != nil {
		st.LastRun = &r.Started
		st.LastSummary = r.Summary
	}
	return st
}
