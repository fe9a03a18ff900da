package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/notification"
)

// Dispatcher routes notifications to registered channels. Channels are
// registered once at startup; lookups are lock-free reads afterwards.
type Dispatcher struct {
	mu          sync.RWMutex
	channels    map[string]Channel
	logger      *slog.Logger
	sendTimeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendTimeout bounds every Send call issued by the dispatcher.
// Zero means the caller's context is the only bound.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.sendTimeout = d }
}

// NewDispatcher creates a dispatcher with the given channels registered.
func NewDispatcher(logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a channel under its Name. Registering the same name
// twice replaces the earlier channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Channel returns the registered channel with the given name.
func (d *Dispatcher) Channel(name string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

// Names returns the names of all registered channels.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Dispatch delivers the notification via the channel named by
// n.Channel.
//
// An unregistered channel fails with herald.ErrUnknownChannel and
// leaves the notification untouched — it never reaches sending. A
// validation failure likewise returns before any status change. Once
// validated, the notification moves to sending and then to sent or
// failed depending on the transport outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification) (*Result, error) {
	ch, ok := d.Channel(n.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", herald.ErrUnknownChannel, n.Channel)
	}

	if err := ch.Validate(n); err != nil {
		return nil, err
	}

	n.Status = notification.StatusSending
	n.Touch()

	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	result, err := ch.Send(ctx, n)
	if err != nil {
		n.MarkFailed(err)
		return nil, err
	}

	n.MarkSent()
	return result, nil
}

// DispatchMulti fans the same payload out to each listed channel
// independently. Every channel gets its own attempt on its own clone of
// the notification; one channel's failure never suppresses another's
// attempt, and the per-channel outcomes are returned in input order.
func (d *Dispatcher) DispatchMulti(ctx context.Context, n *notification.Notification, channels []string) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(channels))

	for _, name := range channels {
		cp := n.Clone()
		cp.Channel = name

		result, err := d.Dispatch(ctx, cp)

		dr := DeliveryResult{
			Channel: name,
			Success: err == nil,
			Result:  result,
		}
		if err != nil {
			dr.Error = err.Error()
			d.logger.Warn("fan-out delivery failed",
				slog.String("channel", name),
				slog.String("notification_id", n.ID.String()),
				slog.String("error", err.Error()),
			)
		}

		results = append(results, dr)
	}

	return results
}
