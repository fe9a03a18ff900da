package notification

import (
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/id"
)

// Status represents the delivery state of a notification.
type Status string

const (
	// StatusPending means the notification has been accepted but no
	// delivery attempt has started.
	StatusPending Status = "pending"
	// StatusSending means a delivery attempt is in progress.
	StatusSending Status = "sending"
	// StatusSent means the notification was delivered.
	StatusSent Status = "sent"
	// StatusFailed means the last delivery attempt failed. Not terminal:
	// the job layer decides whether to retry.
	StatusFailed Status = "failed"
	// StatusDeadLetter means every retry was exhausted.
	StatusDeadLetter Status = "dead_letter"
	// StatusCancelled means the notification was cancelled before delivery.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDeadLetter || s == StatusCancelled
}

// transitions encodes the forward-only state machine.
var transitions = map[Status][]Status{
	StatusPending: {StatusSending, StatusCancelled},
	StatusSending: {StatusSent, StatusFailed},
	StatusFailed:  {StatusSending, StatusDeadLetter},
}

// CanTransition reports whether moving from s to next is a legal forward
// transition.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Notification is a message to deliver over a named channel.
type Notification struct {
	herald.Entity

	ID        id.NotificationID `json:"id"`
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Status    Status            `json:"status"`
	LastError string            `json:"last_error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
}

// New creates a pending notification for the given channel and recipient.
func New(channel, recipient, subject, message string) *Notification {
	return &Notification{
		Entity:    herald.NewEntity(),
		ID:        id.NewNotificationID(),
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
		Status:    StatusPending,
	}
}

// Meta returns the metadata value for key, or "" when unset.
func (n *Notification) Meta(key string) string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata[key]
}

// MarkSent records a successful delivery: status sent, SentAt stamped.
func (n *Notification) MarkSent() {
	now := time.Now().UTC()
	n.Status = StatusSent
	n.SentAt = &now
	n.LastError = ""
	n.Touch()
}

// MarkFailed records a failed attempt without deciding on retries.
func (n *Notification) MarkFailed(err error) {
	n.Status = StatusFailed
	if err != nil {
		n.LastError = err.Error()
	}
	n.Touch()
}

// Clone returns a shallow copy with its own metadata map, so fan-out
// dispatch can vary the channel without aliasing.
func (n *Notification) Clone() *Notification {
	cp := *n
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
