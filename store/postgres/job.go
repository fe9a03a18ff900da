package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// jobColumns is the shared select list: job columns followed by the
// LEFT JOINed notification columns.
const jobColumns = `
	j.id, j.type, j.template, j.data, j.state, j.priority,
	j.retries, j.max_retries, j.last_error, j.on_success, j.on_failure,
	j.run_at, j.started_at, j.completed_at, j.timeout_ns,
	j.created_at, j.updated_at,
	n.id, n.channel, n.recipient, n.subject, n.message, n.status,
	n.last_error, n.metadata, n.sent_at, n.created_at, n.updated_at`

const jobFrom = `
	FROM herald_jobs j
	LEFT JOIN herald_notifications n ON n.id = j.notification_id`

// SaveJob durably persists a job and its owned notification in one
// transaction. Idempotent on ID: saving twice overwrites.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: save job begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var notificationID any
	if j.Notification != nil {
		if err := upsertNotification(ctx, tx, j.Notification); err != nil {
			return err
		}
		notificationID = j.Notification.ID.String()
	}

	data, err := marshalMap(j.Data)
	if err != nil {
		return fmt.Errorf("herald/postgres: save job marshal data: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO herald_jobs (
			id, type, notification_id, template, data, state, priority,
			retries, max_retries, last_error, on_success, on_failure,
			run_at, started_at, completed_at, timeout_ns, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, notification_id = EXCLUDED.notification_id,
			template = EXCLUDED.template, data = EXCLUDED.data,
			state = EXCLUDED.state, priority = EXCLUDED.priority,
			retries = EXCLUDED.retries, max_retries = EXCLUDED.max_retries,
			last_error = EXCLUDED.last_error,
			on_success = EXCLUDED.on_success, on_failure = EXCLUDED.on_failure,
			run_at = EXCLUDED.run_at, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at, timeout_ns = EXCLUDED.timeout_ns,
			updated_at = NOW()`,
		j.ID.String(), string(j.Type), notificationID, j.Template, data,
		string(j.State), j.Priority,
		j.Retries, j.MaxRetries, j.LastError, j.OnSuccess, j.OnFailure,
		j.RunAt, j.StartedAt, j.CompletedAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: save job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("herald/postgres: save job commit: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID with its notification hydrated.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+jobFrom+` WHERE j.id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get job: %w", err)
	}
	return j, nil
}

// LoadPendingJobs returns runnable jobs: pending or retry_scheduled
// with an elapsed RunAt, oldest first. SKIP LOCKED keeps concurrent
// loaders from contending on the same rows.
func (s *Store) LoadPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+jobColumns+jobFrom+`
		WHERE j.state IN ('pending', 'retry_scheduled')
		  AND j.run_at <= NOW()
		ORDER BY j.created_at ASC
		LIMIT $1
		FOR UPDATE OF j SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: load pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RecoverStaleJobs resets jobs left in processing back to pending so
// they are visible to LoadPendingJobs again.
func (s *Store) RecoverStaleJobs(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs
		SET state = 'pending', run_at = NOW(), updated_at = NOW()
		WHERE state = 'processing'`,
	)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateJob persists changes to an existing job. Last-write-wins.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	data, err := marshalMap(j.Data)
	if err != nil {
		return fmt.Errorf("herald/postgres: update job marshal data: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs SET
			type = $2, template = $3, data = $4, state = $5, priority = $6,
			retries = $7, max_retries = $8, last_error = $9,
			on_success = $10, on_failure = $11,
			run_at = $12, started_at = $13, completed_at = $14,
			timeout_ns = $15, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), string(j.Type), j.Template, data, string(j.State), j.Priority,
		j.Retries, j.MaxRetries, j.LastError,
		j.OnSuccess, j.OnFailure,
		j.RunAt, j.StartedAt, j.CompletedAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// UpdateJobStatus updates only the state and error columns of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, state job.State, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_jobs SET state = $2, last_error = $3, updated_at = NOW() WHERE id = $1`,
		jobID.String(), string(state), errMsg,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrJobNotFound
	}
	return nil
}

// GetJobStatus returns the current state of a job.
func (s *Store) GetJobStatus(ctx context.Context, jobID id.JobID) (job.State, error) {
	var stateStr string
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM herald_jobs WHERE id = $1`, jobID.String(),
	).Scan(&stateStr)
	if err != nil {
		if isNoRows(err) {
			return "", herald.ErrJobNotFound
		}
		return "", fmt.Errorf("herald/postgres: get job status: %w", err)
	}
	return job.State(stateStr), nil
}

// CancelJob moves a job to cancelled iff it is still pending or
// retry_scheduled. The guard lives in the WHERE clause, so the
// check-and-set is a single atomic statement.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_jobs
		SET state = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'retry_scheduled')`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from non-cancellable.
		if _, getErr := s.GetJobStatus(ctx, jobID); getErr != nil {
			return getErr
		}
		return herald.ErrNotCancellable
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE herald_notifications
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = (SELECT notification_id FROM herald_jobs WHERE id = $1)`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: cancel notification: %w", err)
	}
	return nil
}

// scanJob scans one joined job+notification row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		stateStr  string
		data      []byte
		timeoutNs int64

		nID        *string
		nChannel   *string
		nRecipient *string
		nSubject   *string
		nMessage   *string
		nStatus    *string
		nLastError *string
		nMetadata  []byte
		nSentAt    *time.Time
		nCreatedAt *time.Time
		nUpdatedAt *time.Time
	)

	err := row.Scan(
		&idStr, &typeStr, &j.Template, &data, &stateStr, &j.Priority,
		&j.Retries, &j.MaxRetries, &j.LastError, &j.OnSuccess, &j.OnFailure,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
		&nID, &nChannel, &nRecipient, &nSubject, &nMessage, &nStatus,
		&nLastError, &nMetadata, &nSentAt, &nCreatedAt, &nUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if err := unmarshalMapAny(data, &j.Data); err != nil {
		return nil, fmt.Errorf("herald/postgres: unmarshal job data: %w", err)
	}

	if nID != nil {
		n := &notification.Notification{
			Channel:   *nChannel,
			Recipient: *nRecipient,
			Subject:   *nSubject,
			Message:   *nMessage,
			Status:    notification.Status(*nStatus),
			LastError: *nLastError,
			SentAt:    nSentAt,
		}
		n.CreatedAt = *nCreatedAt
		n.UpdatedAt = *nUpdatedAt

		parsedNtfID, ntfErr := id.ParseNotificationID(*nID)
		if ntfErr != nil {
			return nil, fmt.Errorf("herald/postgres: parse notification id %q: %w", *nID, ntfErr)
		}
		n.ID = parsedNtfID

		if err := unmarshalMapString(nMetadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("herald/postgres: unmarshal notification metadata: %w", err)
		}
		j.Notification = n
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("herald/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// marshalMap marshals a map to JSONB bytes, nil stays NULL.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMapAny(data []byte, out *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func unmarshalMapString(data []byte, out *map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
