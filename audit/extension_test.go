package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/herald-sh/herald/audit"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	j := job.New(notification.New("email", "a@example.com", "s", "m"), 3)
	j.Retries = 1
	return j
}

// ── Tests ────────────────────────────────────────────

func TestExtensionName(t *testing.T) {
	e := audit.New(&mockRecorder{})
	if e.Name() != "audit" {
		t.Errorf("Name() = %q, want %q", e.Name(), "audit")
	}
}

func TestJobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionJobEnqueued {
		t.Errorf("Action = %q, want %q", evt.Action, audit.ActionJobEnqueued)
	}
	if evt.Category != audit.CategoryJob || evt.Resource != audit.ResourceJob {
		t.Errorf("event = %+v", evt)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want job id", evt.ResourceID)
	}
	if evt.Metadata["channel"] != "email" {
		t.Errorf("Metadata = %v", evt.Metadata)
	}
}

func TestJobFailedSeverityAndReason(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()

	if err := e.OnJobFailed(context.Background(), j, errors.New("smtp down")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityCritical || evt.Outcome != audit.OutcomeFailure {
		t.Errorf("event = %+v", evt)
	}
	if evt.Reason != "smtp down" {
		t.Errorf("Reason = %q", evt.Reason)
	}
	if evt.Metadata["max_retries"] != 3 {
		t.Errorf("Metadata = %v", evt.Metadata)
	}
}

func TestJobRetryingIsWarning(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)

	next := time.Now().Add(time.Minute)
	if err := e.OnJobRetrying(context.Background(), newTestJob(), 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity = %q, want warning", evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata = %v", evt.Metadata)
	}
}

func TestNotificationSent(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	n := notification.New("webhook", "https://example.com/h", "s", "m")

	if err := e.OnNotificationSent(context.Background(), n, 120*time.Millisecond); err != nil {
		t.Fatalf("OnNotificationSent: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionNotificationSent || evt.Resource != audit.ResourceNotification {
		t.Errorf("event = %+v", evt)
	}
	if evt.Metadata["elapsed_ms"] != int64(120) {
		t.Errorf("Metadata = %v", evt.Metadata)
	}
}

func TestWithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobDLQ))
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("recorded %d events, want 0 for filtered actions", rec.count())
	}

	if err := e.OnJobDLQ(ctx, j, errors.New("exhausted")); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("recorded %d events, want 1", rec.count())
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	failing := audit.RecorderFunc(func(_ context.Context, _ *audit.Event) error {
		return errors.New("audit backend down")
	})
	e := audit.New(failing, audit.WithLogger(slog.New(slog.DiscardHandler)))

	// A broken audit backend must not surface into the delivery path.
	if err := e.OnJobCompleted(context.Background(), newTestJob(), time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
}
