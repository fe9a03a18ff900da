package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/backoff"
	"github.com/herald-sh/herald/channel"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	mw "github.com/herald-sh/herald/middleware"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/observability"
	"github.com/herald-sh/herald/queue"
	"github.com/herald-sh/herald/stream"
	"github.com/herald-sh/herald/template"
	"github.com/herald-sh/herald/worker"
)

// Engine wraps a Herald with typed subsystem access.
// Use Build() to create one from a Herald.
type Engine struct {
	h          *herald.Herald
	extensions *ext.Registry
	dispatcher *channel.Dispatcher
	renderer   *template.Renderer
	callbacks  *job.CallbackRegistry
	jobs       job.Store
	ntfs       notification.Store
	dlqService *dlq.Service
	queue      *queue.Queue
	limiter    *queue.Limiter
	broker     *stream.Broker
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Per-channel rate/concurrency limits.
	limitConfigs []queue.LimitConfig

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithChannelLimit registers per-channel rate limiting and concurrency
// configurations. Channels not listed have no limits.
func WithChannelLimit(configs ...queue.LimitConfig) Option {
	return func(eng *Engine) {
		eng.limitConfigs = append(eng.limitConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Herald.
// The Herald's store must implement job.Store, notification.Store, and
// dlq.Store.
func Build(h *herald.Herald, opts ...Option) (*Engine, error) {
	logger := h.Logger()
	store := h.Store()

	if store == nil {
		return nil, herald.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("herald: store does not implement job.Store")
	}
	ns, ok := store.(notification.Store)
	if !ok {
		return nil, fmt.Errorf("herald: store does not implement notification.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("herald: store does not implement dlq.Store")
	}

	config := h.Config()

	eng := &Engine{
		h:          h,
		extensions: ext.NewRegistry(logger),
		dispatcher: channel.NewDispatcher(logger, channel.WithSendTimeout(config.SendTimeout)),
		renderer:   template.NewRenderer(),
		callbacks:  job.NewCallbackRegistry(),
		jobs:       js,
		ntfs:       ns,
		queue:      queue.New(config.QueueCapacity),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Create the DLQ service.
	eng.dlqService = dlq.NewService(ds, js)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/herald-sh/herald")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/herald-sh/herald")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/herald-sh/herald/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Register the stream broker so lifecycle events fan out to topic
	// subscribers (and the WebSocket bridge, if one is attached).
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	// Build default middleware stack: recover → tracing → metrics →
	// logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	executor := worker.NewExecutor(
		eng.dispatcher,
		eng.renderer,
		eng.callbacks,
		eng.extensions,
		eng.jobs,
		eng.ntfs,
		eng.dlqService,
		eng.bo,
		logger,
		allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithWorkers(config.Workers),
		worker.WithPollInterval(config.PollInterval),
		worker.WithLoadBatch(config.LoadBatch),
	}
	if len(eng.limitConfigs) > 0 {
		eng.limiter = queue.NewLimiter(eng.limitConfigs...)
		poolOpts = append(poolOpts, worker.WithLimiter(eng.limiter))
	}

	eng.pool = worker.NewPool(
		eng.queue,
		eng.jobs,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Wire back into the Herald.
	h.SetPool(eng.pool)
	h.SetExtensions(eng.extensions)

	return eng, nil
}

// EnqueueOption customizes a job before it is persisted.
type EnqueueOption func(*job.Job)

// WithPriority sets the in-memory queue priority. Higher runs first.
func WithPriority(p int) EnqueueOption {
	return func(j *job.Job) { j.Priority = p }
}

// WithMaxRetries overrides the configured default retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(j *job.Job) { j.MaxRetries = n }
}

// WithRunAt defers the job until the given time. Deferred jobs are not
// pushed to the in-memory queue; the store loader picks them up once
// RunAt elapses.
func WithRunAt(t time.Time) EnqueueOption {
	return func(j *job.Job) { j.RunAt = t.UTC() }
}

// WithTimeout bounds the job's total processing time. Zero inherits the
// dispatcher send timeout only.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(j *job.Job) { j.Timeout = d }
}

// Enqueue validates, persists, and queues a notification delivery job.
//
// Unknown channels and validation failures are returned synchronously,
// before anything is persisted. A full queue returns ErrQueueFull; the
// job is already durable at that point and the loader will feed it to
// the workers once the queue drains, so the error is a backpressure
// signal, not a loss.
func (eng *Engine) Enqueue(ctx context.Context, n *notification.Notification, opts ...EnqueueOption) (*job.Job, error) {
	return eng.EnqueueWithCallback(ctx, n, "", "", opts...)
}

// EnqueueWithCallback enqueues a notification delivery job that fires
// the named callbacks on its terminal outcome. Callback names must be
// registered via RegisterCallback; empty names mean no callback.
func (eng *Engine) EnqueueWithCallback(ctx context.Context, n *notification.Notification, onSuccess, onFailure string, opts ...EnqueueOption) (*job.Job, error) {
	if err := eng.validate(n); err != nil {
		return nil, err
	}

	j := job.New(n, eng.h.Config().DefaultMaxRetries)
	j.OnSuccess = onSuccess
	j.OnFailure = onFailure
	for _, opt := range opts {
		opt(j)
	}

	return j, eng.enqueue(ctx, j)
}

// EnqueueTemplate enqueues a job whose message body is rendered from
// the named registered template with the given data at processing time.
func (eng *Engine) EnqueueTemplate(ctx context.Context, n *notification.Notification, templateName string, data map[string]any, opts ...EnqueueOption) (*job.Job, error) {
	if err := eng.validate(n); err != nil {
		return nil, err
	}

	j := job.New(n, eng.h.Config().DefaultMaxRetries)
	j.Type = job.TypeTemplate
	j.Template = templateName
	j.Data = data
	for _, opt := range opts {
		opt(j)
	}

	return j, eng.enqueue(ctx, j)
}

// validate runs the synchronous pre-persist checks: the channel must be
// registered, and the notification must pass its channel's Validate.
func (eng *Engine) validate(n *notification.Notification) error {
	ch, ok := eng.dispatcher.Channel(n.Channel)
	if !ok {
		return fmt.Errorf("%w: %q", herald.ErrUnknownChannel, n.Channel)
	}
	if err := ch.Validate(n); err != nil {
		return err
	}
	return nil
}

// enqueue persists the job, pushes it to the in-memory queue when
// immediately runnable, and emits JobEnqueued.
func (eng *Engine) enqueue(ctx context.Context, j *job.Job) error {
	if err := eng.jobs.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("herald: enqueue persist: %w", err)
	}

	// Deferred jobs wait in the store until the loader's poll finds
	// their RunAt elapsed.
	if !j.RunAt.After(time.Now().UTC()) {
		if err := eng.queue.Push(j); err != nil {
			return err
		}
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return nil
}

// GetJobStatus returns the current state of a job.
func (eng *Engine) GetJobStatus(ctx context.Context, jobID id.JobID) (job.State, error) {
	return eng.jobs.GetJobStatus(ctx, jobID)
}

// GetJob retrieves a job by ID with its notification hydrated.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobs.GetJob(ctx, jobID)
}

// CancelJob cancels a job that has not started processing yet. Only
// pending and retry_scheduled jobs can be cancelled; anything else
// returns ErrNotCancellable.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	if err := eng.jobs.CancelJob(ctx, jobID); err != nil {
		return err
	}

	if j, err := eng.jobs.GetJob(ctx, jobID); err == nil {
		eng.extensions.EmitJobCancelled(ctx, j)
	}
	return nil
}

// ListNotifications returns notifications matching opts, newest first.
func (eng *Engine) ListNotifications(ctx context.Context, opts notification.ListOpts) ([]*notification.Notification, error) {
	return eng.ntfs.ListNotifications(ctx, opts)
}

// RegisterChannel registers a delivery channel with the dispatcher.
func (eng *Engine) RegisterChannel(ch channel.Channel) {
	eng.dispatcher.Register(ch)
}

// RegisterTemplate parses and registers a named message template.
func (eng *Engine) RegisterTemplate(name, body string) error {
	return eng.renderer.Register(name, body)
}

// RegisterCallback registers a named callback for use with
// EnqueueWithCallback. Jobs reference callbacks by name only; there is
// no way to attach an unregistered function or a shell command.
func (eng *Engine) RegisterCallback(name string, cb job.Callback) {
	eng.callbacks.Register(name, cb)
}

// Start begins job processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.h.Start(ctx)
}

// Stop gracefully shuts down the engine: intake stops, in-flight jobs
// finish (bounded by ctx), extensions are notified, the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.h.Stop(ctx)
}

// QueueDepth returns the number of jobs currently tracked by the
// in-memory queue (queued plus in-flight).
func (eng *Engine) QueueDepth() int { return eng.queue.Len() }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Dispatcher returns the channel dispatcher.
func (eng *Engine) Dispatcher() *channel.Dispatcher { return eng.dispatcher }

// Renderer returns the template renderer.
func (eng *Engine) Renderer() *template.Renderer { return eng.renderer }

// Broker returns the stream broker for subscribing to lifecycle events.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Limiter returns the per-channel limiter, or nil if no limits were
// configured.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }

// Herald returns the underlying Herald.
func (eng *Engine) Herald() *herald.Herald { return eng.h }
