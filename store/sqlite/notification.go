package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// execer abstracts *sql.DB and *sql.Tx for shared statements.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const notificationColumns = `
	id, channel, recipient, subject, message, status,
	last_error, metadata, sent_at, created_at, updated_at`

// upsertNotification writes a notification through db or tx.
func upsertNotification(ctx context.Context, db execer, n *notification.Notification) error {
	metadata, err := marshalStringMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("herald/sqlite: marshal notification metadata: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO herald_notifications (
			id, channel, recipient, subject, message, status,
			last_error, metadata, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			channel = excluded.channel, recipient = excluded.recipient,
			subject = excluded.subject, message = excluded.message,
			status = excluded.status, last_error = excluded.last_error,
			metadata = excluded.metadata, sent_at = excluded.sent_at,
			updated_at = excluded.updated_at`,
		n.ID.String(), n.Channel, n.Recipient, n.Subject, n.Message,
		string(n.Status), n.LastError, metadata, fmtTimePtr(n.SentAt),
		fmtTime(n.CreatedAt), fmtTime(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: save notification: %w", err)
	}
	return nil
}

// SaveNotification durably persists a notification. Idempotent on ID.
func (s *Store) SaveNotification(ctx context.Context, n *notification.Notification) error {
	return upsertNotification(ctx, s.db, n)
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, ntfID id.NotificationID) (*notification.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+notificationColumns+` FROM herald_notifications WHERE id = ?`,
		ntfID.String(),
	)

	n, err := scanNotification(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get notification: %w", err)
	}
	return n, nil
}

// UpdateNotification persists changes to an existing notification.
func (s *Store) UpdateNotification(ctx context.Context, n *notification.Notification) error {
	metadata, err := marshalStringMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("herald/sqlite: marshal notification metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE herald_notifications SET
			channel = ?, recipient = ?, subject = ?, message = ?,
			status = ?, last_error = ?, metadata = ?, sent_at = ?,
			updated_at = ?
		WHERE id = ?`,
		n.Channel, n.Recipient, n.Subject, n.Message,
		string(n.Status), n.LastError, metadata, fmtTimePtr(n.SentAt),
		fmtTime(time.Now().UTC()),
		n.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update notification: %w", err)
	}
	return requireRow(res, herald.ErrNotificationNotFound)
}

// ListNotifications returns notifications matching opts, newest first.
func (s *Store) ListNotifications(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT` + notificationColumns + ` FROM herald_notifications WHERE 1=1`)
	args := []any{}

	if opts.Channel != "" {
		sb.WriteString(" AND channel = ?")
		args = append(args, opts.Channel)
	}
	if opts.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Recipient != "" {
		sb.WriteString(" AND recipient = ?")
		args = append(args, opts.Recipient)
	}

	sb.WriteString(" ORDER BY created_at DESC")

	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET.
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET ?")
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: list notifications: %w", err)
	}
	defer rows.Close()

	var result []*notification.Notification
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("herald/sqlite: scan notification row: %w", scanErr)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/sqlite: iterate notification rows: %w", err)
	}
	return result, nil
}

// scanNotification scans a single notification row.
func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		n         notification.Notification
		idStr     string
		statusStr string
		metadata  sql.NullString
		sentAt    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&idStr, &n.Channel, &n.Recipient, &n.Subject, &n.Message, &statusStr,
		&n.LastError, &metadata, &sentAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = notification.Status(statusStr)

	parsedID, parseErr := id.ParseNotificationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("herald/sqlite: parse notification id %q: %w", idStr, parseErr)
	}
	n.ID = parsedID

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &n.Metadata); err != nil {
			return nil, fmt.Errorf("herald/sqlite: unmarshal notification metadata: %w", err)
		}
	}
	if n.SentAt, err = parseTimePtr(sentAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse sent_at: %w", err)
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse created_at: %w", err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("herald/sqlite: parse updated_at: %w", err)
	}

	return &n, nil
}

// marshalStringMap marshals a string map to a JSON string, nil stays NULL.
func marshalStringMap(m map[string]string) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
