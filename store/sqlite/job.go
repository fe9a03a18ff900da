package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

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
// transaction. Idempotent on ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("herald/sqlite: save job begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var notificationID any
	if j.Notification != nil {
		if err := upsertNotification(ctx, tx, j.Notification); err != nil {
			return err
		}
		notificationID = j.Notification.ID.String()
	}

	data, err := marshalMap(j.Data)
	if err != nil {
		return fmt.Errorf("herald/sqlite: save job marshal data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO herald_jobs (
			id, type, notification_id, template, data, state, priority,
			retries, max_retries, last_error, on_success, on_failure,
			run_at, started_at, completed_at, timeout_ns, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type, notification_id = excluded.notification_id,
			template = excluded.template, data = excluded.data,
			state = excluded.state, priority = excluded.priority,
			retries = excluded.retries, max_retries = excluded.max_retries,
			last_error = excluded.last_error,
			on_success = excluded.on_success, on_failure = excluded.on_failure,
			run_at = excluded.run_at, started_at = excluded.started_at,
			completed_at = excluded.completed_at, timeout_ns = excluded.timeout_ns,
			updated_at = excluded.updated_at`,
		j.ID.String(), string(j.Type), notificationID, j.Template, data,
		string(j.State), j.Priority,
		j.Retries, j.MaxRetries, j.LastError, j.OnSuccess, j.OnFailure,
		fmtTime(j.RunAt), fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt),
		j.Timeout.Nanoseconds(), fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: save job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("herald/sqlite: save job commit: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID with its notification hydrated.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+jobColumns+jobFrom+` WHERE j.id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrJobNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get job: %w", err)
	}
	return j, nil
}

// LoadPendingJobs returns runnable jobs: pending or retry_scheduled
// with an elapsed RunAt, oldest first.
func (s *Store) LoadPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+jobColumns+jobFrom+`
		WHERE j.state IN ('pending', 'retry_scheduled')
		  AND j.run_at <= ?
		ORDER BY j.created_at ASC
		LIMIT ?`,
		fmtTime(time.Now().UTC()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: load pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RecoverStaleJobs resets jobs left in processing back to pending so
// they are visible to LoadPendingJobs again.
func (s *Store) RecoverStaleJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE herald_jobs
		SET state = 'pending', run_at = ?, updated_at = ?
		WHERE state = 'processing'`,
		fmtTime(time.Now().UTC()), fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: recover stale jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: recover stale jobs rows: %w", err)
	}
	return int(affected), nil
}

// UpdateJob persists changes to an existing job. Last-write-wins.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	data, err := marshalMap(j.Data)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update job marshal data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE herald_jobs SET
			type = ?, template = ?, data = ?, state = ?, priority = ?,
			retries = ?, max_retries = ?, last_error = ?,
			on_success = ?, on_failure = ?,
			run_at = ?, started_at = ?, completed_at = ?,
			timeout_ns = ?, updated_at = ?
		WHERE id = ?`,
		string(j.Type), j.Template, data, string(j.State), j.Priority,
		j.Retries, j.MaxRetries, j.LastError,
		j.OnSuccess, j.OnFailure,
		fmtTime(j.RunAt), fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt),
		j.Timeout.Nanoseconds(), fmtTime(time.Now().UTC()),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update job: %w", err)
	}
	return requireRow(res, herald.ErrJobNotFound)
}

// UpdateJobStatus updates only the state and error columns of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, state job.State, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE herald_jobs SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(state), errMsg, fmtTime(time.Now().UTC()), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update job status: %w", err)
	}
	return requireRow(res, herald.ErrJobNotFound)
}

// GetJobStatus returns the current state of a job.
func (s *Store) GetJobStatus(ctx context.Context, jobID id.JobID) (job.State, error) {
	var stateStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM herald_jobs WHERE id = ?`, jobID.String(),
	).Scan(&stateStr)
	if err != nil {
		if isNoRows(err) {
			return "", herald.ErrJobNotFound
		}
		return "", fmt.Errorf("herald/sqlite: get job status: %w", err)
	}
	return job.State(stateStr), nil
}

// CancelJob moves a job to cancelled iff it is still pending or
// retry_scheduled. The guard lives in the WHERE clause, so the
// check-and-set is a single atomic statement.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE herald_jobs
		SET state = 'cancelled', updated_at = ?
		WHERE id = ? AND state IN ('pending', 'retry_scheduled')`,
		fmtTime(time.Now().UTC()), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("herald/sqlite: cancel job rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetJobStatus(ctx, jobID); getErr != nil {
			return getErr
		}
		return herald.ErrNotCancellable
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE herald_notifications
		SET status = 'cancelled', updated_at = ?
		WHERE id = (SELECT notification_id FROM herald_jobs WHERE id = ?)`,
		fmtTime(time.Now().UTC()), jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: cancel notification: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans one joined job+notification row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		typeStr     string
		stateStr    string
		data        sql.NullString
		runAt       string
		startedAt   sql.NullString
		completedAt sql.NullString
		timeoutNs   int64
		createdAt   string
		updatedAt   string

		nID        sql.NullString
		nChannel   sql.NullString
		nRecipient sql.NullString
		nSubject   sql.NullString
		nMessage   sql.NullString
		nStatus    sql.NullString
		nLastError sql.NullString
		nMetadata  sql.NullString
		nSentAt    sql.NullString
		nCreatedAt sql.NullString
		nUpdatedAt sql.NullString
	)

	err := row.Scan(
		&idStr, &typeStr, &j.Template, &data, &stateStr, &j.Priority,
		&j.Retries, &j.MaxRetries, &j.LastError, &j.OnSuccess, &j.OnFailure,
		&runAt, &startedAt, &completedAt, &timeoutNs,
		&createdAt, &updatedAt,
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
		return nil, fmt.Errorf("herald/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if j.RunAt, err = parseTime(runAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse run_at: %w", err)
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse completed_at: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse updated_at: %w", err)
	}

	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &j.Data); err != nil {
			return nil, fmt.Errorf("herald/sqlite: unmarshal job data: %w", err)
		}
	}

	if nID.Valid {
		n := &notification.Notification{
			Channel:   nChannel.String,
			Recipient: nRecipient.String,
			Subject:   nSubject.String,
			Message:   nMessage.String,
			Status:    notification.Status(nStatus.String),
			LastError: nLastError.String,
		}

		parsedNtfID, ntfErr := id.ParseNotificationID(nID.String)
		if ntfErr != nil {
			return nil, fmt.Errorf("herald/sqlite: parse notification id %q: %w", nID.String, ntfErr)
		}
		n.ID = parsedNtfID

		if nMetadata.Valid && nMetadata.String != "" {
			if err := json.Unmarshal([]byte(nMetadata.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("herald/sqlite: unmarshal notification metadata: %w", err)
			}
		}
		if n.SentAt, err = parseTimePtr(nSentAt); err != nil {
			return nil, fmt.Errorf("herald/sqlite: parse sent_at: %w", err)
		}
		if n.CreatedAt, err = parseTime(nCreatedAt.String); err != nil {
			return nil, fmt.Errorf("herald/sqlite: parse notification created_at: %w", err)
		}
		if n.UpdatedAt, err = parseTime(nUpdatedAt.String); err != nil {
			return nil, fmt.Errorf("herald/sqlite: parse notification updated_at: %w", err)
		}
		j.Notification = n
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("herald/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// requireRow converts a zero-row update into notFound.
func requireRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

// marshalMap marshals a map to a JSON string, nil stays NULL.
func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
