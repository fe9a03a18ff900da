// Package herald is a durable notification delivery engine for Go.
// It combines a persistent job queue, a concurrent worker pool, a
// channel-dispatch layer, a template renderer, and a retry/backoff/
// dead-letter policy behind a library-first API.
//
// Herald is designed as a library, not a service. Import it, configure a
// store and delivery channels, and enqueue notifications:
//
//	h, err := herald.New(
//	    herald.WithStore(memStore),
//	    herald.WithWorkers(8),
//	)
//
// # Architecture
//
// Herald follows a composable store pattern where each subsystem (job,
// notification, dlq) defines its own store interface. A single backend
// implements all of them; memory, sqlite, postgres, and redis backends
// ship in store/.
//
// Delivery transports implement the channel.Channel capability
// {Name, Validate, Send}. The channel.Dispatcher routes a notification to
// its transport or fans it out to several, and the worker pool drives
// retries with pluggable backoff until success or dead-letter.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package herald
