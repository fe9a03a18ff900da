// Package observability provides an extension that records lifecycle
// metrics for the delivery engine. Register it with the engine to track
// enqueue rates, completion counts, failure rates, retries, DLQ
// entries, and per-channel delivery outcomes without touching the hot
// path.
package observability
