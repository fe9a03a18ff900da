package job

import "time"

// Options configures per-job behavior such as retries and priority.
type Options struct {
	// MaxRetries is the retry budget before the job dead-letters.
	MaxRetries int

	// Priority determines dequeue ordering. Higher values first.
	Priority int

	// Timeout bounds the delivery attempt. Zero uses the engine default.
	Timeout time.Duration

	// RunAt defers the job until a future time. Zero means immediate.
	RunAt time.Time

	// OnSuccess and OnFailure name registered callback handlers invoked
	// on the job's terminal outcome.
	OnSuccess string
	OnFailure string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout bounds the delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt defers the job until t.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithCallbacks names the success and failure handlers. Either may be
// empty. Names must be registered before enqueue.
func WithCallbacks(onSuccess, onFailure string) Option {
	return func(o *Options) {
		o.OnSuccess = onSuccess
		o.OnFailure = onFailure
	}
}
