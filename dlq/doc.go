// Package dlq provides the dead letter queue for delivery jobs that
// have exhausted their retry budget. It supports inspection, replay,
// and purging.
//
// When a job fails and MaxRetries has been reached, the executor calls
// [Service.Push] to move it into the DLQ. The notification snapshot,
// final error message, and retry counts are preserved for debugging.
//
// Replaying an entry re-enqueues the notification as a brand-new
// pending job with a fresh ID and a zero retry count; the entry is then
// stamped with ReplayedAt. Purge removes entries that failed before a
// cutoff and reports how many were dropped.
package dlq
