// Package queue provides the bounded in-memory work queue that sits
// between producers and the worker pool, and a per-channel rate limiter.
//
// The queue deduplicates by job ID: a job stays tracked from Push until
// the worker calls Done, so the periodic store loader can re-offer jobs
// freely without ever creating two concurrent executions of the same
// job. Push never blocks — a full queue is a synchronous ErrQueueFull,
// which is the backpressure signal to the caller.
package queue
