package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

const dlqColumns = `
	id, job_id, channel, notification, template, data, error,
	retries, max_retries, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue. The
// notification snapshot is stored as JSONB.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	var snapshot []byte
	if entry.Notification != nil {
		b, err := json.Marshal(entry.Notification)
		if err != nil {
			return fmt.Errorf("herald/postgres: marshal dlq notification: %w", err)
		}
		snapshot = b
	}

	data, err := marshalMap(entry.Data)
	if err != nil {
		return fmt.Errorf("herald/postgres: marshal dlq data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO herald_dlq (
			id, job_id, channel, notification, template, data, error,
			retries, max_retries, failed_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.JobID.String(), entry.Channel,
		snapshot, entry.Template, data, entry.Error,
		entry.Retries, entry.MaxRetries,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT` + dlqColumns + ` FROM herald_dlq WHERE 1=1`)
	args := []any{}
	argIdx := 1

	if opts.Channel != "" {
		fmt.Fprintf(&sb, " AND channel = $%d", argIdx)
		args = append(args, opts.Channel)
		argIdx++
	}

	sb.WriteString(" ORDER BY failed_at DESC")

	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("herald/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+dlqColumns+` FROM herald_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrDLQNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE herald_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM herald_dlq WHERE failed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM herald_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
		snapshot []byte
		data     []byte
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Channel, &snapshot, &e.Template, &data, &e.Error,
		&e.Retries, &e.MaxRetries, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobErr := id.ParseJobID(jobIDStr)
	if jobErr != nil {
		return nil, fmt.Errorf("herald/postgres: parse job id %q: %w", jobIDStr, jobErr)
	}
	e.JobID = parsedJobID

	if len(snapshot) > 0 {
		var n notification.Notification
		if err := json.Unmarshal(snapshot, &n); err != nil {
			return nil, fmt.Errorf("herald/postgres: unmarshal dlq notification: %w", err)
		}
		e.Notification = &n
	}

	if err := unmarshalMapAny(data, &e.Data); err != nil {
		return nil, fmt.Errorf("herald/postgres: unmarshal dlq data: %w", err)
	}

	return &e, nil
}
