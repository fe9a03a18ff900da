package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

const dlqColumns = `
	id, job_id, channel, notification, template, data, error,
	retries, max_retries, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue. The
// notification snapshot is stored as a JSON string.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	var snapshot any
	if entry.Notification != nil {
		b, err := json.Marshal(entry.Notification)
		if err != nil {
			return fmt.Errorf("herald/sqlite: marshal dlq notification: %w", err)
		}
		snapshot = string(b)
	}

	data, err := marshalMap(entry.Data)
	if err != nil {
		return fmt.Errorf("herald/sqlite: marshal dlq data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO herald_dlq (
			id, job_id, channel, notification, template, data, error,
			retries, max_retries, failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.JobID.String(), entry.Channel,
		snapshot, entry.Template, data, entry.Error,
		entry.Retries, entry.MaxRetries,
		fmtTime(entry.FailedAt), fmtTimePtr(entry.ReplayedAt), fmtTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT` + dlqColumns + ` FROM herald_dlq WHERE 1=1`)
	args := []any{}

	if opts.Channel != "" {
		sb.WriteString(" AND channel = ?")
		args = append(args, opts.Channel)
	}

	sb.WriteString(" ORDER BY failed_at DESC")

	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET ?")
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("herald/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+dlqColumns+` FROM herald_dlq WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrDLQNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE herald_dlq SET replayed_at = ? WHERE id = ?`,
		fmtTime(time.Now().UTC()), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: replay dlq: %w", err)
	}
	return requireRow(res, herald.ErrDLQNotFound)
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM herald_dlq WHERE failed_at < ?`, fmtTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: purge dlq rows affected: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM herald_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		idStr      string
		jobIDStr   string
		snapshot   sql.NullString
		data       sql.NullString
		failedAt   string
		replayedAt sql.NullString
		createdAt  string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Channel, &snapshot, &e.Template, &data, &e.Error,
		&e.Retries, &e.MaxRetries, &failedAt, &replayedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/sqlite: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobErr := id.ParseJobID(jobIDStr)
	if jobErr != nil {
		return nil, fmt.Errorf("herald/sqlite: parse job id %q: %w", jobIDStr, jobErr)
	}
	e.JobID = parsedJobID

	if snapshot.Valid && snapshot.String != "" {
		var n notification.Notification
		if err := json.Unmarshal([]byte(snapshot.String), &n); err != nil {
			return nil, fmt.Errorf("herald/sqlite: unmarshal dlq notification: %w", err)
		}
		e.Notification = &n
	}

	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
			return nil, fmt.Errorf("herald/sqlite: unmarshal dlq data: %w", err)
		}
	}

	if e.FailedAt, err = parseTime(failedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse failed_at: %w", err)
	}
	if e.ReplayedAt, err = parseTimePtr(replayedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse replayed_at: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse created_at: %w", err)
	}

	return &e, nil
}
