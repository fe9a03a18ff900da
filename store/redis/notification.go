package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// SaveNotification stores the notification as a Hash. Idempotent on ID.
func (s *Store) SaveNotification(ctx context.Context, n *notification.Notification) error {
	fields, err := notificationToMap(n)
	if err != nil {
		return err
	}
	nID := n.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, ntfKey(nID), fields)
	pipe.SAdd(ctx, ntfIDsKey, nID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: save notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, ntfID id.NotificationID) (*notification.Notification, error) {
	return s.getNotificationByKey(ctx, ntfKey(ntfID.String()))
}

// UpdateNotification persists changes to an existing notification.
func (s *Store) UpdateNotification(ctx context.Context, n *notification.Notification) error {
	key := ntfKey(n.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: update notification exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrNotificationNotFound
	}

	fields, err := notificationToMap(n)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("herald/redis: update notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications matching opts, newest first.
// Redis has no secondary indexes, so this enumerates the tracking set
// and filters client-side.
func (s *Store) ListNotifications(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, error) {
	ids, err := s.client.SMembers(ctx, ntfIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list notifications smembers: %w", err)
	}

	result := make([]*notification.Notification, 0, len(ids))
	for _, nID := range ids {
		n, getErr := s.getNotificationByKey(ctx, ntfKey(nID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Channel != "" && n.Channel != opts.Channel {
			continue
		}
		if opts.Status != "" && n.Status != opts.Status {
			continue
		}
		if opts.Recipient != "" && n.Recipient != opts.Recipient {
			continue
		}
		result = append(result, n)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ── helpers ──

func notificationToMap(n *notification.Notification) (map[string]interface{}, error) {
	metadata, err := marshalJSON(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: marshal notification metadata: %w", err)
	}

	m := map[string]interface{}{
		"id":         n.ID.String(),
		"channel":    n.Channel,
		"recipient":  n.Recipient,
		"subject":    n.Subject,
		"message":    n.Message,
		"status":     string(n.Status),
		"last_error": n.LastError,
		"metadata":   metadata,
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": n.UpdatedAt.Format(time.RFC3339Nano),
	}
	if n.SentAt != nil {
		m["sent_at"] = n.SentAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getNotificationByKey(ctx context.Context, key string) (*notification.Notification, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get notification: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrNotificationNotFound
	}
	return mapToNotification(vals)
}

func mapToNotification(m map[string]string) (*notification.Notification, error) {
	nID, err := id.ParseNotificationID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse notification id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	n := &notification.Notification{
		Entity: herald.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        nID,
		Channel:   m["channel"],
		Recipient: m["recipient"],
		Subject:   m["subject"],
		Message:   m["message"],
		Status:    notification.Status(m["status"]),
		LastError: m["last_error"],
	}

	if v := m["metadata"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &n.Metadata); err != nil {
			return nil, fmt.Errorf("herald/redis: unmarshal notification metadata: %w", err)
		}
	}
	if v := m["sent_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		n.SentAt = &t
	}

	return n, nil
}
