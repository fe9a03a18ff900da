package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/herald-sh/herald/notification"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int32

const (
	// BreakerClosed passes every send through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects sends immediately until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen wraps the rejection returned while the circuit is
// open. It surfaces as a ChannelError, so callers treat it as any other
// transport failure and back off.
var errBreakerOpen = fmt.Errorf("circuit open")

// Breaker wraps a Channel with a circuit breaker. After Threshold
// consecutive failures the circuit opens and sends fail fast for
// Cooldown; the first send after the cooldown probes the transport and
// either closes the circuit or re-opens it.
type Breaker struct {
	inner     Channel
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets how many consecutive failures open the
// circuit. Default 5.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithBreakerCooldown sets how long the circuit stays open before a
// probe is allowed. Default 30s.
func WithBreakerCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerClock overrides the time source. Test hook.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker wraps ch with a circuit breaker.
func NewBreaker(ch Channel, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		inner:     ch,
		threshold: 5,
		cooldown:  30 * time.Second,
		state:     BreakerClosed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name delegates to the wrapped channel so the breaker registers under
// the same name.
func (b *Breaker) Name() string { return b.inner.Name() }

// Validate delegates unchanged. Validation failures are the caller's
// fault and never count against the circuit.
func (b *Breaker) Validate(n *notification.Notification) error {
	return b.inner.Validate(n)
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Send applies the circuit before delegating. While open, it fails fast
// with a ChannelError so the retry machinery schedules the attempt for
// later instead of hammering a down transport.
func (b *Breaker) Send(ctx context.Context, n *notification.Notification) (*Result, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}

	result, err := b.inner.Send(ctx, n)
	b.record(err == nil)
	return result, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return &ChannelError{Channel: b.inner.Name(), Err: errBreakerOpen}
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return &ChannelError{Channel: b.inner.Name(), Err: errBreakerOpen}
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if success {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		// Probe failed, back to open for a fresh cooldown.
		b.state = BreakerOpen
		b.openedAt = b.now()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}
}
