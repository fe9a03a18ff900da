// Package job defines the queued-work entity, its state machine, the
// persistence contract, and the callback handler registry.
//
// # Job Entity
//
// A [Job] is a unit of queued work, usually wrapping an owned
// Notification. It embeds [herald.Entity] for timestamps and progresses
// through a state machine:
//
//	pending → processing → completed
//	pending → processing → retry_scheduled → processing → ...
//	pending → processing → failed
//	pending → processing → dead_letter
//	pending → cancelled
//
// Fields of note:
//   - Type: notification, template (render only), or webhook
//   - Priority: higher values are dequeued first
//   - MaxRetries / Retries: the retry budget; Retries never exceeds MaxRetries
//   - RunAt: earliest time the job may be claimed (set on retry scheduling)
//   - OnSuccess / OnFailure: names of registered callback handlers
//
// # Callbacks
//
// Callbacks are named handles resolved against a [CallbackRegistry] of
// explicitly registered functions. A job record stores only the name;
// the function is looked up at completion time. Unregistered names are
// rejected at enqueue time, so a persisted job can never reference an
// arbitrary command or URL.
package job
