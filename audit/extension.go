package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobEnqueued        = (*Extension)(nil)
	_ ext.JobStarted         = (*Extension)(nil)
	_ ext.JobCompleted       = (*Extension)(nil)
	_ ext.JobFailed          = (*Extension)(nil)
	_ ext.JobRetrying        = (*Extension)(nil)
	_ ext.JobDLQ             = (*Extension)(nil)
	_ ext.JobCancelled       = (*Extension)(nil)
	_ ext.NotificationSent   = (*Extension)(nil)
	_ ext.NotificationFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that the audit package carries no backend
// dependency — callers inject the concrete recorder at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is a structured audit record.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Herald lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"channel", jobChannel(j),
		"type", string(j.Type),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"channel", jobChannel(j),
		"attempt", j.Retries+1,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"channel", jobChannel(j),
		"retries", j.Retries,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"channel", jobChannel(j),
		"retries", j.Retries,
		"max_retries", j.MaxRetries,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"channel", jobChannel(j),
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"channel", jobChannel(j),
		"retries", j.Retries,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"channel", jobChannel(j),
	)
}

// ── Notification lifecycle hooks ────────────────────

// OnNotificationSent implements ext.NotificationSent.
func (e *Extension) OnNotificationSent(ctx context.Context, n *notification.Notification, elapsed time.Duration) error {
	return e.record(ctx, ActionNotificationSent, SeverityInfo, OutcomeSuccess,
		ResourceNotification, n.ID.String(), CategoryNotification, nil,
		"channel", n.Channel,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnNotificationFailed implements ext.NotificationFailed.
func (e *Extension) OnNotificationFailed(ctx context.Context, n *notification.Notification, sendErr error) error {
	return e.record(ctx, ActionNotificationFailed, SeverityWarning, OutcomeFailure,
		ResourceNotification, n.ID.String(), CategoryNotification, sendErr,
		"channel", n.Channel,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
// Recorder failures are logged, never propagated — a broken audit
// backend must not stall delivery.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

func jobChannel(j *job.Job) string {
	if j.Notification == nil {
		return ""
	}
	return j.Notification.Channel
}
