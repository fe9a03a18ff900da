// Package store defines the aggregate persistence interface. Each
// subsystem (job, notification, dlq) defines its own store interface;
// the composite Store composes them all. Backends: Postgres, SQLite,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, sqlite, redis, memory) implements all of them.
type Store interface {
	job.Store
	notification.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
