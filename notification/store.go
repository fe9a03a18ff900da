package notification

import (
	"context"

	"github.com/herald-sh/herald/id"
)

// ListOpts controls filtering and pagination for notification queries.
// All filters are bound as statement parameters by every backend; no
// caller value is ever interpolated into a query string.
type ListOpts struct {
	// Channel filters by channel name. Empty means all channels.
	Channel string
	// Status filters by delivery status. Empty means all statuses.
	Status Status
	// Recipient filters by exact recipient. Empty means all recipients.
	Recipient string
	// Limit bounds the result set. Zero applies the backend default.
	Limit int
	// Offset skips the first n matches.
	Offset int
}

// Store defines the persistence contract for notifications.
type Store interface {
	// SaveNotification durably persists a notification. Idempotent on ID.
	SaveNotification(ctx context.Context, n *Notification) error

	// GetNotification retrieves a notification by ID.
	GetNotification(ctx context.Context, ntfID id.NotificationID) (*Notification, error)

	// UpdateNotification persists changes to an existing notification.
	UpdateNotification(ctx context.Context, n *Notification) error

	// ListNotifications returns notifications matching opts, newest first.
	ListNotifications(ctx context.Context, opts ListOpts) ([]*Notification, error)
}
