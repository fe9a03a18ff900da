package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/herald-sh/herald/job"
)

// Timeout returns middleware that bounds a delivery attempt by the
// job's Timeout field. Jobs without one run unbounded; the dispatcher's
// send timeout still applies to the Send call itself.
//
// A tripped deadline surfaces as a wrapped context.DeadlineExceeded,
// which the executor classifies as retryable.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("delivery attempt ran out of time",
				slog.String("job_id", j.ID.String()),
				slog.String("channel", channelOf(j)),
				slog.Duration("timeout", j.Timeout),
			)
			return fmt.Errorf("delivery attempt exceeded %v: %w", j.Timeout, err)
		}
		return err
	}
}
