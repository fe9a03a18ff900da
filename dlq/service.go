package dlq

import (
	"context"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from an exhausted job and persists it. The
// notification snapshot is cloned so later mutation of the job cannot
// rewrite DLQ history.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		Template:   j.Template,
		Data:       j.Data,
		Error:      jobErr.Error(),
		Retries:    j.Retries,
		MaxRetries: j.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	}
	if j.Notification != nil {
		entry.Channel = j.Notification.Channel
		entry.Notification = j.Notification.Clone()
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID, a zero retry count,
// and runs immediately; the dead-lettered job itself stays terminal.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var n *notification.Notification
	if entry.Notification != nil {
		n = entry.Notification.Clone()
		n.ID = id.NewNotificationID()
		n.Status = notification.StatusPending
		n.LastError = ""
		n.SentAt = nil
		n.Entity = herald.NewEntity()
	}

	j := job.New(n, entry.MaxRetries)
	j.Template = entry.Template
	j.Data = entry.Data

	if err := s.jobStore.SaveJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface the marking error but
		// keep the job.
		return j, err
	}

	return j, nil
}

// Purge removes entries that failed before the cutoff.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// DLQStore returns the underlying DLQ store for direct access to List,
// Get, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
