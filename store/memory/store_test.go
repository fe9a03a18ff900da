package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/store/memory"
)

func newJob(channel string) *job.Job {
	return job.New(notification.New(channel, "dest", "subj", "msg"), 3)
}

func TestSaveGetJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("email")
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.State != job.StatePending {
		t.Errorf("got %+v", got)
	}

	// The stored job must not alias caller memory.
	j.Notification.Recipient = "changed"
	got2, _ := s.GetJob(ctx, j.ID)
	if got2.Notification.Recipient != "dest" {
		t.Error("store shares notification memory with the caller")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := memory.New()
	var missing job.Job
	if _, err := s.GetJob(context.Background(), missing.ID); !errors.Is(err, herald.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSaveJobIdempotentOnID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("email")
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("first save: %v", err)
	}
	j.Priority = 9
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Priority != 9 {
		t.Errorf("Priority = %d, want overwrite to 9", got.Priority)
	}
}

func TestLoadPendingJobsFiltersAndOrders(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	ready := newJob("email")
	ready.CreatedAt = time.Now().Add(-2 * time.Minute)

	later := newJob("email")
	later.RunAt = time.Now().Add(time.Hour)

	done := newJob("email")
	done.State = job.StateCompleted

	claimed := newJob("email")
	claimed.State = job.StateProcessing

	retrying := newJob("email")
	retrying.State = job.StateRetryScheduled
	retrying.RunAt = time.Now().Add(-time.Second)
	retrying.CreatedAt = time.Now().Add(-time.Minute)

	for _, j := range []*job.Job{ready, later, done, claimed, retrying} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	got, err := s.LoadPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("LoadPendingJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d jobs, want 2", len(got))
	}
	if got[0].ID != ready.ID || got[1].ID != retrying.ID {
		t.Error("jobs not ordered by creation time")
	}
}

func TestSaveJobPersistsOwnedNotification(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("email")
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	// The delivery path updates the notification it expects SaveJob to
	// have persisted alongside the job.
	n, err := s.GetNotification(ctx, j.Notification.ID)
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	n.MarkSent()
	if err := s.UpdateNotification(ctx, n); err != nil {
		t.Fatalf("UpdateNotification: %v", err)
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	stuck := newJob("email")
	stuck.State = job.StateProcessing
	now := time.Now().UTC()
	stuck.StartedAt = &now

	fresh := newJob("email")

	for _, j := range []*job.Job{stuck, fresh} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	// A job stranded in processing is invisible to the loader until
	// recovered.
	got, err := s.LoadPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("LoadPendingJobs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loaded %d jobs before recovery, want 1", len(got))
	}

	n, err := s.RecoverStaleJobs(ctx)
	if err != nil {
		t.Fatalf("RecoverStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d jobs, want 1", n)
	}

	got, err = s.LoadPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("LoadPendingJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d jobs after recovery, want 2", len(got))
	}
	state, _ := s.GetJobStatus(ctx, stuck.ID)
	if state != job.StatePending {
		t.Errorf("state = %s, want pending", state)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("webhook")
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, job.StateFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	state, err := s.GetJobStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if state != job.StateFailed {
		t.Errorf("state = %s, want failed", state)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.LastError != "boom" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestCancelJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newJob("chat")
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	state, _ := s.GetJobStatus(ctx, j.ID)
	if state != job.StateCancelled {
		t.Errorf("state = %s, want cancelled", state)
	}

	// Terminal jobs cannot be cancelled.
	done := newJob("chat")
	done.State = job.StateCompleted
	if err := s.SaveJob(ctx, done); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.CancelJob(ctx, done.ID); !errors.Is(err, herald.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}

	// Processing jobs are owned by a worker.
	running := newJob("chat")
	running.State = job.StateProcessing
	if err := s.SaveJob(ctx, running); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.CancelJob(ctx, running.ID); !errors.Is(err, herald.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
}

func TestNotificationCRUD(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	n := notification.New("email", "a@example.com", "s", "m")
	if err := s.SaveNotification(ctx, n); err != nil {
		t.Fatalf("SaveNotification: %v", err)
	}

	got, err := s.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if got.Recipient != "a@example.com" {
		t.Errorf("got %+v", got)
	}

	got.MarkSent()
	if err := s.UpdateNotification(ctx, got); err != nil {
		t.Fatalf("UpdateNotification: %v", err)
	}
	reloaded, _ := s.GetNotification(ctx, n.ID)
	if reloaded.Status != notification.StatusSent || reloaded.SentAt == nil {
		t.Errorf("reloaded = %+v", reloaded)
	}

	var missing notification.Notification
	if _, err := s.GetNotification(ctx, missing.ID); !errors.Is(err, herald.ErrNotificationNotFound) {
		t.Fatalf("err = %v, want ErrNotificationNotFound", err)
	}
}

func TestListNotificationsFilters(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	a := notification.New("email", "a@example.com", "s", "m")
	b := notification.New("webhook", "https://example.com/h", "s", "m")
	c := notification.New("email", "c@example.com", "s", "m")
	c.MarkSent()

	for _, n := range []*notification.Notification{a, b, c} {
		if err := s.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification: %v", err)
		}
	}

	emails, err := s.ListNotifications(ctx, notification.ListOpts{Channel: "email"})
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("email filter: got %d, want 2", len(emails))
	}

	sent, _ := s.ListNotifications(ctx, notification.ListOpts{Status: notification.StatusSent})
	if len(sent) != 1 || sent[0].ID != c.ID {
		t.Errorf("status filter: %v", sent)
	}

	one, _ := s.ListNotifications(ctx, notification.ListOpts{Limit: 1})
	if len(one) != 1 {
		t.Errorf("limit: got %d, want 1", len(one))
	}

	byRecipient, _ := s.ListNotifications(ctx, notification.ListOpts{Recipient: "a@example.com"})
	if len(byRecipient) != 1 || byRecipient[0].ID != a.ID {
		t.Errorf("recipient filter: %v", byRecipient)
	}
}
