package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// PushDLQ stores a DLQ entry as a Hash with a JSON notification snapshot.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	fields, err := dlqToMap(entry)
	if err != nil {
		return err
	}
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), fields)
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failure first. Enumerates the tracking set and filters client-side.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list dlq smembers: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Channel != "" && e.Channel != opts.Channel {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.After(entries[j].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, dlqKey(entryID.String()))
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrDLQNotFound
	}

	err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("herald/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		e, getErr := s.getDLQByKey(ctx, dlqKey(eID))
		if getErr != nil {
			continue
		}
		if !e.FailedAt.Before(before) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return purged, fmt.Errorf("herald/redis: purge dlq entry: %w", pErr)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) (map[string]interface{}, error) {
	data, err := marshalJSON(e.Data)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: marshal dlq data: %w", err)
	}

	m := map[string]interface{}{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"channel":     e.Channel,
		"template":    e.Template,
		"data":        data,
		"error":       e.Error,
		"retries":     strconv.Itoa(e.Retries),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"failed_at":   e.FailedAt.Format(time.RFC3339Nano),
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.Notification != nil {
		b, mErr := json.Marshal(e.Notification)
		if mErr != nil {
			return nil, fmt.Errorf("herald/redis: marshal dlq notification: %w", mErr)
		}
		m["notification"] = string(b)
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse dlq id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse dlq job id: %w", err)
	}

	retries, _ := strconv.Atoi(m["retries"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:         eID,
		JobID:      jID,
		Channel:    m["channel"],
		Template:   m["template"],
		Error:      m["error"],
		Retries:    retries,
		MaxRetries: maxRetries,
		FailedAt:   failedAt,
		CreatedAt:  createdAt,
	}

	if v := m["notification"]; v != "" && v != "null" {
		var n notification.Notification
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			return nil, fmt.Errorf("herald/redis: unmarshal dlq notification: %w", err)
		}
		e.Notification = &n
	}
	if v := m["data"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &e.Data); err != nil {
			return nil, fmt.Errorf("herald/redis: unmarshal dlq data: %w", err)
		}
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}

	return e, nil
}
