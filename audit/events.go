package audit

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobEnqueued        = "job.enqueued"
	ActionJobStarted         = "job.started"
	ActionJobCompleted       = "job.completed"
	ActionJobFailed          = "job.failed"
	ActionJobRetrying        = "job.retrying"
	ActionJobDLQ             = "job.dlq"
	ActionJobCancelled       = "job.cancelled"
	ActionNotificationSent   = "notification.sent"
	ActionNotificationFailed = "notification.failed"
)

// Audit event categories group related actions.
const (
	CategoryJob          = "herald.job"
	CategoryNotification = "herald.notification"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob          = "job"
	ResourceNotification = "notification"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionJobCancelled,
		ActionNotificationSent,
		ActionNotificationFailed,
	}
}
