package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/herald-sh/herald/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", j.ID.String()),
			slog.String("channel", channelOf(j)),
			slog.Int("attempt", j.Retries+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("channel", channelOf(j)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_id", j.ID.String()),
				slog.String("channel", channelOf(j)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
