package dlq

import (
	"time"

	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/notification"
)

// Entry represents a job that has exhausted its retry budget and been
// moved to the dead letter queue for inspection or replay.
type Entry struct {
	ID           id.DLQID                   `json:"id"`
	JobID        id.JobID                   `json:"job_id"`
	Channel      string                     `json:"channel"`
	Notification *notification.Notification `json:"notification"`
	Template     string                     `json:"template,omitempty"`
	Data         map[string]any             `json:"data,omitempty"`
	Error        string                     `json:"error"`
	Retries      int                        `json:"retries"`
	MaxRetries   int                        `json:"max_retries"`
	FailedAt     time.Time                  `json:"failed_at"`
	ReplayedAt   *time.Time                 `json:"replayed_at,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
}
