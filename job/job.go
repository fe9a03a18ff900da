package job

import (
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// Type discriminates what kind of work a job carries.
type Type string

const (
	// TypeNotification delivers the owned notification through its channel.
	TypeNotification Type = "notification"
	// TypeTemplate renders a registered template without delivering.
	TypeTemplate Type = "template"
	// TypeWebhook posts the owned notification through the webhook channel
	// regardless of its channel field.
	TypeWebhook Type = "webhook"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed by a worker.
	StatePending State = "pending"
	// StateProcessing means exactly one worker owns the job.
	StateProcessing State = "processing"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateRetryScheduled means the job failed and waits out its backoff
	// delay before re-entering the queue.
	StateRetryScheduled State = "retry_scheduled"
	// StateFailed means the job failed without a retry (validation or
	// unknown-channel failures never consume the retry budget).
	StateFailed State = "failed"
	// StateDeadLetter means the job exhausted its retry budget.
	StateDeadLetter State = "dead_letter"
	// StateCancelled means the job was cancelled before processing.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state permits no further processing.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateDeadLetter, StateCancelled:
		return true
	default:
		return false
	}
}

// Cancellable reports whether a job in this state may still be cancelled.
// Processing jobs are owned by a worker and run to completion.
func (s State) Cancellable() bool {
	return s == StatePending || s == StateRetryScheduled
}

// Job represents a unit of queued work.
type Job struct {
	herald.Entity

	ID           id.JobID                   `json:"id"`
	Type         Type                       `json:"type"`
	Notification *notification.Notification `json:"notification,omitempty"`
	Template     string                     `json:"template,omitempty"`
	Data         map[string]any             `json:"data,omitempty"`
	State        State                      `json:"state"`
	Priority     int                        `json:"priority"`
	Retries      int                        `json:"retries"`
	MaxRetries   int                        `json:"max_retries"`
	LastError    string                     `json:"last_error,omitempty"`
	OnSuccess    string                     `json:"on_success,omitempty"`
	OnFailure    string                     `json:"on_failure,omitempty"`
	RunAt        time.Time                  `json:"run_at"`
	StartedAt    *time.Time                 `json:"started_at,omitempty"`
	CompletedAt  *time.Time                 `json:"completed_at,omitempty"`
	Timeout      time.Duration              `json:"timeout,omitempty"`
}

// New creates a pending notification job with the given retry budget.
func New(n *notification.Notification, maxRetries int) *Job {
	return &Job{
		Entity:       herald.NewEntity(),
		ID:           id.NewJobID(),
		Type:         TypeNotification,
		Notification: n,
		State:        StatePending,
		MaxRetries:   maxRetries,
		RunAt:        time.Now().UTC(),
	}
}

// RetryBudgetLeft reports whether another attempt is allowed. The
// failure being handled must already be counted in Retries, so a job
// with MaxRetries 3 dead-letters on its third failed attempt.
func (j *Job) RetryBudgetLeft() bool {
	return j.Retries < j.MaxRetries
}

// ScheduleRetry moves the job to retry_scheduled with the given delay.
// The caller counts the failed attempt in Retries before checking
// RetryBudgetLeft; this only parks the job.
func (j *Job) ScheduleRetry(delay time.Duration, cause error) {
	j.State = StateRetryScheduled
	j.RunAt = time.Now().UTC().Add(delay)
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.Touch()
}
