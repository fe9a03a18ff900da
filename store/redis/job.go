package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
)

// runnable reports whether a state belongs in the pending sorted set.
func runnable(state job.State) bool {
	return state == job.StatePending || state == job.StateRetryScheduled
}

// SaveJob stores the job and its owned notification as Hashes and
// indexes the job in the pending Sorted Set when runnable. Idempotent
// on ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), fields)
	pipe.SAdd(ctx, jobIDsKey, jID)

	if j.Notification != nil {
		nFields, nErr := notificationToMap(j.Notification)
		if nErr != nil {
			return nErr
		}
		nID := j.Notification.ID.String()
		pipe.HSet(ctx, ntfKey(nID), nFields)
		pipe.SAdd(ctx, ntfIDsKey, nID)
	}

	if runnable(j.State) {
		pipe.ZAdd(ctx, pendingJobsKey, goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZRem(ctx, pendingJobsKey, jID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID with its notification hydrated.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// LoadPendingJobs returns runnable jobs whose RunAt has elapsed, oldest
// RunAt first, bounded by limit.
func (s *Store) LoadPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()

	ids, err := s.client.ZRangeByScore(ctx, pendingJobsKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: load pending zrange: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			// The index can briefly lag hash deletions.
			continue
		}
		if !runnable(j.State) {
			s.client.ZRem(ctx, pendingJobsKey, jID)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// RecoverStaleJobs scans the tracked job IDs for hashes stuck in
// processing and resets them to pending, re-indexing each in the
// pending sorted set.
func (s *Store) RecoverStaleJobs(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: recover stale smembers: %w", err)
	}

	now := time.Now().UTC()
	var count int
	for _, jID := range ids {
		state, err := s.client.HGet(ctx, jobKey(jID), "state").Result()
		if err != nil {
			if isNil(err) {
				continue
			}
			return count, fmt.Errorf("herald/redis: recover stale hget: %w", err)
		}
		if job.State(state) != job.StateProcessing {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jID),
			"state", string(job.StatePending),
			"run_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, pendingJobsKey, goredis.Z{
			Score:  float64(now.UnixMilli()),
			Member: jID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("herald/redis: recover stale job: %w", err)
		}
		count++
	}
	return count, nil
}

// UpdateJob persists changes to an existing job and keeps the pending
// index in sync with the new state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if runnable(j.State) {
		pipe.ZAdd(ctx, pendingJobsKey, goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jID,
		})
	} else {
		pipe.ZRem(ctx, pendingJobsKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates only the state and error fields of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, state job.State, errMsg string) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: update status exists: %w", err)
	}
	if exists == 0 {
		return herald.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(state),
		"last_error", errMsg,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if !runnable(state) {
		pipe.ZRem(ctx, pendingJobsKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update job status: %w", err)
	}
	return nil
}

// GetJobStatus returns the current state of a job.
func (s *Store) GetJobStatus(ctx context.Context, jobID id.JobID) (job.State, error) {
	state, err := s.client.HGet(ctx, jobKey(jobID.String()), "state").Result()
	if err != nil {
		if isNil(err) {
			return "", herald.ErrJobNotFound
		}
		return "", fmt.Errorf("herald/redis: get job status: %w", err)
	}
	return job.State(state), nil
}

// cancelScript performs the cancel check-and-set server-side so two
// concurrent cancels (or a cancel racing a worker claim) cannot both
// win. Returns -1 when the job is missing, 0 when not cancellable, and
// 1 on success.
var cancelScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return -1
end
if state == 'pending' or state == 'retry_scheduled' then
	redis.call('HSET', KEYS[1], 'state', 'cancelled', 'updated_at', ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// CancelJob moves a job to cancelled iff it is still pending or
// retry_scheduled, then cascades the cancel to its notification.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := cancelScript.Run(ctx, s.client,
		[]string{key, pendingJobsKey}, now, jID,
	).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: cancel job: %w", err)
	}
	switch res {
	case -1:
		return herald.ErrJobNotFound
	case 0:
		return herald.ErrNotCancellable
	}

	nID, err := s.client.HGet(ctx, key, "notification_id").Result()
	if err != nil {
		if isNil(err) {
			return nil
		}
		return fmt.Errorf("herald/redis: cancel job notification id: %w", err)
	}
	if nID == "" {
		return nil
	}

	err = s.client.HSet(ctx, ntfKey(nID),
		"status", "cancelled",
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("herald/redis: cancel notification: %w", err)
	}
	return nil
}

// ── helpers ──

func jobToMap(j *job.Job) (map[string]interface{}, error) {
	data, err := marshalJSON(j.Data)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: marshal job data: %w", err)
	}

	m := map[string]interface{}{
		"id":          j.ID.String(),
		"type":        string(j.Type),
		"template":    j.Template,
		"data":        data,
		"state":       string(j.State),
		"priority":    strconv.Itoa(j.Priority),
		"retries":     strconv.Itoa(j.Retries),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"last_error":  j.LastError,
		"on_success":  j.OnSuccess,
		"on_failure":  j.OnFailure,
		"run_at":      j.RunAt.Format(time.RFC3339Nano),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.Notification != nil {
		m["notification_id"] = j.Notification.ID.String()
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, herald.ErrJobNotFound
	}

	j, err := mapToJob(vals)
	if err != nil {
		return nil, err
	}

	if nID := vals["notification_id"]; nID != "" {
		n, nErr := s.getNotificationByKey(ctx, ntfKey(nID))
		if nErr == nil {
			j.Notification = n
		}
	}
	return j, nil
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("herald/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	retries, _ := strconv.Atoi(m["retries"])             //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: herald.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:         jID,
		Type:       job.Type(m["type"]),
		Template:   m["template"],
		State:      job.State(m["state"]),
		Priority:   priority,
		Retries:    retries,
		MaxRetries: maxRetries,
		LastError:  m["last_error"],
		OnSuccess:  m["on_success"],
		OnFailure:  m["on_failure"],
		RunAt:      runAt,
		Timeout:    time.Duration(timeout),
	}

	if v := m["data"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &j.Data); err != nil {
			return nil, fmt.Errorf("herald/redis: unmarshal job data: %w", err)
		}
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}

// marshalJSON marshals a map to a JSON string, nil maps stay empty.
func marshalJSON[V any](m map[string]V) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isNil reports whether err is the redis missing-key sentinel.
func isNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
