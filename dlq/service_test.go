package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	herdlq "github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/store/memory"
)

func exhaustedJob() *job.Job {
	n := notification.New("email", "alice@example.com", "welcome", "hi alice")
	j := job.New(n, 3)
	j.Retries = 3
	j.State = job.StateFailed
	j.LastError = "smtp timeout"
	return j
}

func TestPushBuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := herdlq.NewService(s, s)
	ctx := context.Background()

	j := exhaustedJob()
	if err := svc.Push(ctx, j, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, herdlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.Channel != "email" {
		t.Errorf("Channel = %q, want %q", entry.Channel, "email")
	}
	if entry.Error != "smtp timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "smtp timeout")
	}
	if entry.Retries != 3 || entry.MaxRetries != 3 {
		t.Errorf("retries = %d/%d, want 3/3", entry.Retries, entry.MaxRetries)
	}
	if entry.Notification == nil || entry.Notification.Recipient != "alice@example.com" {
		t.Error("notification snapshot missing")
	}
	if entry.FailedAt.IsZero() {
		t.Error("FailedAt not stamped")
	}
	if entry.ReplayedAt != nil {
		t.Error("fresh entry must not be marked replayed")
	}
}

func TestPushSnapshotsNotification(t *testing.T) {
	s := memory.New()
	svc := herdlq.NewService(s, s)
	ctx := context.Background()

	j := exhaustedJob()
	if err := svc.Push(ctx, j, errors.New("down")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Mutating the job afterwards must not rewrite DLQ history.
	j.Notification.Recipient = "mallory@example.com"

	entries, _ := s.ListDLQ(ctx, herdlq.ListOpts{})
	if entries[0].Notification.Recipient != "alice@example.com" {
		t.Error("DLQ entry shares memory with the source job")
	}
}

func TestReplayCreatesFreshJob(t *testing.T) {
	s := memory.New()
	svc := herdlq.NewService(s, s)
	ctx := context.Background()

	orig := exhaustedJob()
	if err := svc.Push(ctx, orig, errors.New("smtp timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, _ := s.ListDLQ(ctx, herdlq.ListOpts{})
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == orig.ID {
		t.Error("replayed job reused the dead job's ID")
	}
	if replayed.State != job.StatePending {
		t.Errorf("State = %s, want pending", replayed.State)
	}
	if replayed.Retries != 0 {
		t.Errorf("Retries = %d, want 0", replayed.Retries)
	}
	if replayed.Notification.Status != notification.StatusPending {
		t.Errorf("notification status = %s, want pending", replayed.Notification.Status)
	}
	if replayed.Notification.LastError != "" {
		t.Error("replayed notification kept the old error")
	}

	// The new job is persisted and claimable.
	loaded, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if loaded.State != job.StatePending {
		t.Errorf("persisted state = %s", loaded.State)
	}

	// The entry is stamped.
	entry, _ := s.GetDLQ(ctx, entryID)
	if entry.ReplayedAt == nil {
		t.Error("entry not marked replayed")
	}
}

func TestReplayUnknownEntry(t *testing.T) {
	s := memory.New()
	svc := herdlq.NewService(s, s)

	var missing herdlq.Entry
	if _, err := svc.Replay(context.Background(), missing.ID); err == nil {
		t.Fatal("replaying a missing entry should fail")
	}
}

func TestPurgeDropsOldEntries(t *testing.T) {
	s := memory.New()
	svc := herdlq.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if err := svc.Push(ctx, exhaustedJob(), errors.New("x")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// Nothing failed before yesterday.
	dropped, err := svc.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}

	dropped, err = svc.Purge(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}

	count, _ := s.CountDLQ(ctx)
	if count != 0 {
		t.Fatalf("CountDLQ = %d after purge", count)
	}
}
