package job

import (
	"context"

	"github.com/herald-sh/herald/id"
)

// Store defines the persistence contract for jobs. Implementations must
// bind every caller-supplied value as a statement parameter.
//
// Persistence errors are surfaced, never swallowed: a failed write means
// the caller must not assume the job state changed.
type Store interface {
	// SaveJob durably persists a job. Idempotent on ID: saving the same
	// job twice overwrites rather than duplicates.
	SaveJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// LoadPendingJobs returns jobs that are not terminal and whose RunAt
	// has elapsed, ordered by creation time, bounded by limit. Used at
	// startup for crash recovery and periodically to catch retry timers
	// that fired while the process was down.
	LoadPendingJobs(ctx context.Context, limit int) ([]*Job, error)

	// RecoverStaleJobs resets jobs stuck in processing back to pending
	// and returns how many were reset. A job is only ever in processing
	// while a worker owns it, so anything still marked processing at
	// startup belongs to a crashed run. Must run before this process's
	// workers start.
	RecoverStaleJobs(ctx context.Context) (int, error)

	// UpdateJob persists changes to an existing job. Last-write-wins.
	UpdateJob(ctx context.Context, j *Job) error

	// UpdateJobStatus updates only the state and error columns of a job.
	UpdateJobStatus(ctx context.Context, jobID id.JobID, state State, errMsg string) error

	// GetJobStatus returns the current state of a job.
	GetJobStatus(ctx context.Context, jobID id.JobID) (State, error)

	// CancelJob moves a job to cancelled iff it is still pending or
	// retry_scheduled. Returns herald.ErrNotCancellable otherwise. The
	// check-and-set is atomic per job ID.
	CancelJob(ctx context.Context, jobID id.JobID) error
}
