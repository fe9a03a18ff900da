package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-channel behaviour such as rate limiting and
// concurrency.
type LimitConfig struct {
	// Channel is the channel name (must match notification.Channel).
	Channel string

	// MaxConcurrency limits how many deliveries on this channel may run
	// simultaneously across the local worker pool. Zero means no
	// channel-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained deliveries per second on this
	// channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// channelState tracks runtime state for a single channel.
type channelState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter controls per-channel rate limiting and concurrency.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewLimiter creates a Limiter with the given channel configurations.
// Channels not listed here have no limits.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		channels: make(map[string]*channelState, len(configs)),
	}
	for _, cfg := range configs {
		l.channels[cfg.Channel] = newChannelState(cfg)
	}
	return l
}

func newChannelState(cfg LimitConfig) *channelState {
	cs := &channelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks rate limits and concurrency for the given channel. If
// the delivery is allowed to proceed it increments the active counter
// and returns true. The caller MUST call Release when the delivery
// completes.
func (l *Limiter) Acquire(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.channels[channel]
	if cs == nil {
		return true
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
		return false
	}
	cs.active++
	return true
}

// Release decrements the active delivery count for the channel.
func (l *Limiter) Release(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cs := l.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetConfig dynamically updates (or creates) a channel configuration.
func (l *Limiter) SetConfig(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.channels[cfg.Channel]
	cs := newChannelState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		cs.active = existing.active
	}
	l.channels[cfg.Channel] = cs
}

// ActiveCount returns the current number of active deliveries for a
// channel.
func (l *Limiter) ActiveCount(channel string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cs := l.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}
