// Package channel defines the delivery transport capability and its
// implementations: email (SMTP), webhook (HTTP), chat (Slack-compatible
// webhook), and file (append-only delivery log). A Dispatcher routes a
// notification to the matching transport or fans it out to several.
//
// All transports share one contract: Validate rejects a notification
// before any network or filesystem work happens, and Send performs
// exactly one delivery attempt bounded by the caller's context.
package channel

import (
	"context"
	"fmt"

	"github.com/herald-sh/herald/notification"
)

// Channel is a named transport capable of delivering a notification.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Name returns the channel identifier matched against
	// notification.Channel ("email", "webhook", "chat", "file").
	Name() string

	// Validate checks the notification before any send attempt.
	// Returns a *ValidationError describing the first problem found.
	Validate(n *notification.Notification) error

	// Send performs one delivery attempt. The context carries the
	// per-attempt deadline; exceeding it is a transport failure like any
	// other.
	Send(ctx context.Context, n *notification.Notification) (*Result, error)
}

// Result describes a successful delivery.
type Result struct {
	// Channel is the transport that delivered.
	Channel string `json:"channel"`
	// Detail carries transport-specific response fields (status code,
	// file path, accepted recipient, ...).
	Detail map[string]string `json:"detail,omitempty"`
}

// DeliveryResult captures one channel's outcome during fan-out.
type DeliveryResult struct {
	Channel string  `json:"channel"`
	Success bool    `json:"success"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ValidationError reports a notification that can never be delivered as
// is: bad recipient, oversized field, forbidden content. It is not
// retryable and never consumes a retry attempt.
type ValidationError struct {
	Channel string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("channel %s: invalid %s: %s", e.Channel, e.Field, e.Reason)
}

// ChannelError reports a transport failure (connection refused, non-2xx
// response, timeout). It is retryable and drives the backoff path.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
