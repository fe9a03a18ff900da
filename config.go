package herald

import "time"

// Config holds configuration for a Herald instance.
type Config struct {
	// Workers is the number of concurrent worker goroutines.
	Workers int

	// QueueCapacity bounds the in-memory work queue. Enqueue fails with
	// ErrQueueFull once the queue holds this many jobs.
	QueueCapacity int

	// PollInterval is how often the background loader scans the store for
	// pending jobs and fired retry timers.
	PollInterval time.Duration

	// LoadBatch bounds how many jobs a single loader pass pulls from the
	// store.
	LoadBatch int

	// SendTimeout bounds each Channel.Send call. A timeout counts as a
	// channel failure and flows into the retry path.
	SendTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// DefaultMaxRetries is applied to jobs enqueued without an explicit
	// retry budget.
	DefaultMaxRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueCapacity:     1000,
		PollInterval:      10 * time.Second,
		LoadBatch:         100,
		SendTimeout:       30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		DefaultMaxRetries: 3,
	}
}
