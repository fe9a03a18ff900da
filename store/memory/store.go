// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development;
// nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store          = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
	_ dlq.Store          = (*Store)(nil)
)

// Store keeps every record in maps guarded by a single RWMutex. All
// reads and writes copy, so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	jobs          map[string]*job.Job
	notifications map[string]*notification.Notification
	dlqs          map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:          make(map[string]*job.Job),
		notifications: make(map[string]*notification.Notification),
		dlqs:          make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// cloneJob deep-copies a job, including its notification, so store
// internals never alias caller memory.
func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.Notification != nil {
		cp.Notification = j.Notification.Clone()
	}
	if j.Data != nil {
		data := make(map[string]any, len(j.Data))
		for k, v := range j.Data {
			data[k] = v
		}
		cp.Data = data
	}
	return &cp
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob persists a job and its owned notification. Idempotent on ID.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneJob(j)
	m.jobs[j.ID.String()] = cp
	if cp.Notification != nil {
		m.notifications[cp.Notification.ID.String()] = cp.Notification.Clone()
	}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, herald.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// LoadPendingJobs returns non-terminal jobs whose RunAt has elapsed,
// ordered by creation time.
func (m *Store) LoadPendingJobs(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State.Terminal() || j.State == job.StateProcessing {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		result[i] = cloneJob(j)
	}
	return result, nil
}

// RecoverStaleJobs releases jobs a crashed run left in processing so
// the loader can pick them up again.
func (m *Store) RecoverStaleJobs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var count int
	for _, j := range m.jobs {
		if j.State != job.StateProcessing {
			continue
		}
		j.State = job.StatePending
		j.RunAt = now
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return herald.ErrJobNotFound
	}
	cp := cloneJob(j)
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp
	return nil
}

// UpdateJobStatus updates only the state and error fields of a job.
func (m *Store) UpdateJobStatus(_ context.Context, jobID id.JobID, state job.State, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return herald.ErrJobNotFound
	}
	j.State = state
	j.LastError = errMsg
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// GetJobStatus returns the current state of a job.
func (m *Store) GetJobStatus(_ context.Context, jobID id.JobID) (job.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return "", herald.ErrJobNotFound
	}
	return j.State, nil
}

// CancelJob moves a job to cancelled iff it is still cancellable. The
// check-and-set runs under the store lock, so two concurrent cancels
// (or a cancel racing a worker claim) cannot both win.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return herald.ErrJobNotFound
	}
	if !j.State.Cancellable() {
		return herald.ErrNotCancellable
	}
	j.State = job.StateCancelled
	j.UpdatedAt = time.Now().UTC()
	if j.Notification != nil {
		j.Notification.Status = notification.StatusCancelled
	}
	return nil
}

// ──────────────────────────────────────────────────
// Notification Store
// ──────────────────────────────────────────────────

// SaveNotification persists a notification. Idempotent on ID.
func (m *Store) SaveNotification(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications[n.ID.String()] = n.Clone()
	return nil
}

// GetNotification retrieves a notification by ID.
func (m *Store) GetNotification(_ context.Context, ntfID id.NotificationID) (*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[ntfID.String()]
	if !ok {
		return nil, herald.ErrNotificationNotFound
	}
	return n.Clone(), nil
}

// UpdateNotification persists changes to an existing notification.
func (m *Store) UpdateNotification(_ context.Context, n *notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := n.ID.String()
	if _, ok := m.notifications[key]; !ok {
		return herald.ErrNotificationNotFound
	}
	cp := n.Clone()
	cp.UpdatedAt = time.Now().UTC()
	m.notifications[key] = cp
	return nil
}

// ListNotifications returns notifications matching opts, newest first.
func (m *Store) ListNotifications(_ context.Context, opts notification.ListOpts) ([]*notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*notification.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if opts.Channel != "" && n.Channel != opts.Channel {
			continue
		}
		if opts.Status != "" && n.Status != opts.Status {
			continue
		}
		if opts.Recipient != "" && n.Recipient != opts.Recipient {
			continue
		}
		result = append(result, n.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Channel != "" && e.Channel != opts.Channel {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, herald.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return herald.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}
