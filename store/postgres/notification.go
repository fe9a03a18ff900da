package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// execer abstracts pool and transaction for shared statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const notificationColumns = `
	id, channel, recipient, subject, message, status,
	last_error, metadata, sent_at, created_at, updated_at`

// upsertNotification writes a notification through pool or tx.
func upsertNotification(ctx context.Context, db execer, n *notification.Notification) error {
	metadata, err := marshalStringMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("herald/postgres: marshal notification metadata: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO herald_notifications (
			id, channel, recipient, subject, message, status,
			last_error, metadata, sent_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			channel = EXCLUDED.channel, recipient = EXCLUDED.recipient,
			subject = EXCLUDED.subject, message = EXCLUDED.message,
			status = EXCLUDED.status, last_error = EXCLUDED.last_error,
			metadata = EXCLUDED.metadata, sent_at = EXCLUDED.sent_at,
			updated_at = NOW()`,
		n.ID.String(), n.Channel, n.Recipient, n.Subject, n.Message,
		string(n.Status), n.LastError, metadata, n.SentAt,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: save notification: %w", err)
	}
	return nil
}

// SaveNotification durably persists a notification. Idempotent on ID.
func (s *Store) SaveNotification(ctx context.Context, n *notification.Notification) error {
	return upsertNotification(ctx, s.pool, n)
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, ntfID id.NotificationID) (*notification.Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+notificationColumns+` FROM herald_notifications WHERE id = $1`,
		ntfID.String(),
	)

	n, err := scanNotification(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get notification: %w", err)
	}
	return n, nil
}

// UpdateNotification persists changes to an existing notification.
func (s *Store) UpdateNotification(ctx context.Context, n *notification.Notification) error {
	metadata, err := marshalStringMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("herald/postgres: marshal notification metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE herald_notifications SET
			channel = $2, recipient = $3, subject = $4, message = $5,
			status = $6, last_error = $7, metadata = $8, sent_at = $9,
			updated_at = NOW()
		WHERE id = $1`,
		n.ID.String(), n.Channel, n.Recipient, n.Subject, n.Message,
		string(n.Status), n.LastError, metadata, n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("herald/postgres: update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herald.ErrNotificationNotFound
	}
	return nil
}

// ListNotifications returns notifications matching opts, newest first.
// Filters are appended as numbered placeholders, never interpolated.
func (s *Store) ListNotifications(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT` + notificationColumns + ` FROM herald_notifications WHERE 1=1`)
	args := []any{}
	argIdx := 1

	if opts.Channel != "" {
		fmt.Fprintf(&sb, " AND channel = $%d", argIdx)
		args = append(args, opts.Channel)
		argIdx++
	}
	if opts.Status != "" {
		fmt.Fprintf(&sb, " AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Recipient != "" {
		fmt.Fprintf(&sb, " AND recipient = $%d", argIdx)
		args = append(args, opts.Recipient)
		argIdx++
	}

	sb.WriteString(" ORDER BY created_at DESC")

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
		return nil, fmt.Errorf("herald/postgres: list notifications: %w", err)
	}
	defer rows.Close()

	var result []*notification.Notification
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("herald/postgres: scan notification row: %w", scanErr)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate notification rows: %w", err)
	}
	return result, nil
}

// scanNotification scans a single notification row.
func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n         notification.Notification
		idStr     string
		statusStr string
		metadata  []byte
		sentAt    *time.Time
	)
	err := row.Scan(
		&idStr, &n.Channel, &n.Recipient, &n.Subject, &n.Message, &statusStr,
		&n.LastError, &metadata, &sentAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = notification.Status(statusStr)
	n.SentAt = sentAt

	parsedID, parseErr := id.ParseNotificationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/postgres: parse notification id %q: %w", idStr, parseErr)
	}
	n.ID = parsedID

	if err := unmarshalMapString(metadata, &n.Metadata); err != nil {
		return nil, fmt.Errorf("herald/postgres: unmarshal notification metadata: %w", err)
	}

	return &n, nil
}

// marshalStringMap marshals a string map to JSONB bytes, nil stays NULL.
func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
