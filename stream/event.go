// Package stream provides a real-time event broker for delivery
// lifecycle events. It bridges the ext.Extension system to connected
// clients via topic-based pub/sub, with an optional WebSocket transport.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobDLQ       EventType = "job.dlq"
	EventJobCancelled EventType = "job.cancelled"

	// Notification events.
	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// NotificationEventData is the payload for notification lifecycle events.
type NotificationEventData struct {
	NotificationID string `json:"notification_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}
