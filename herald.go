package herald

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Herald instance.
type Option func(*Herald) error

// Storer is the minimal store interface held by the root coordinator.
// It covers lifecycle operations only. The subsystem store interfaces
// (job.Store, notification.Store, dlq.Store) live in their own packages
// to avoid import cycles; backends implement all of them.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Herald is the central coordinator for notification delivery: it owns
// the store and worker pool lifecycle. Create one with New() and
// functional options, then use the engine package to wire channels,
// templates, and callbacks and to enqueue work.
type Herald struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	pool       poolRunner
	extensions extensionEmitter

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Herald with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Logger returns the configured logger.
func (h *Herald) Logger() *slog.Logger { return h.logger }

// Store returns the configured store.
func (h *Herald) Store() Storer { return h.store }

// Config returns a copy of the configuration.
func (h *Herald) Config() Config { return h.config }

// SetPool sets the worker pool (called by the engine package).
func (h *Herald) SetPool(p poolRunner) { h.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (h *Herald) SetExtensions(e extensionEmitter) { h.extensions = e }

// Start begins job processing.
func (h *Herald) Start(ctx context.Context) error {
	if h.pool == nil {
		return ErrNoStore
	}
	if err := h.pool.Start(ctx); err != nil {
		return err
	}
	h.started = true
	return nil
}

// Stop gracefully shuts down the engine: the pool stops accepting work,
// in-flight jobs run to completion, extensions are notified, and the
// store is closed.
func (h *Herald) Stop(ctx context.Context) error {
	if h.pool != nil && h.started {
		if err := h.pool.Stop(ctx); err != nil {
			h.logger.Error("pool stop error", "error", err)
		}
	}
	if h.extensions != nil {
		h.extensions.EmitShutdown(ctx)
	}
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}

// WithWorkers sets the number of concurrent worker goroutines.
func WithWorkers(n int) Option {
	return func(h *Herald) error {
		h.config.Workers = n
		return nil
	}
}

// WithQueueCapacity bounds the in-memory work queue.
func WithQueueCapacity(n int) Option {
	return func(h *Herald) error {
		h.config.QueueCapacity = n
		return nil
	}
}

// WithPollInterval sets how often the loader scans the store.
func WithPollInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.PollInterval = d
		return nil
	}
}

// WithSendTimeout bounds each Channel.Send call.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.SendTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Herald) error {
		h.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; typically it implements every subsystem store
// interface as well.
func WithStore(s Storer) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration at once.
func WithConfig(c Config) Option {
	return func(h *Herald) error {
		h.config = c
		return nil
	}
}
