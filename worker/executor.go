// Package worker provides the delivery execution engine — an Executor
// that runs a single job through middleware, template rendering, and
// channel dispatch, and a Pool that manages concurrent worker
// goroutines draining the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/backoff"
	"github.com/herald-sh/herald/channel"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/middleware"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/template"
)

// Executor runs a single job through the middleware chain and the
// channel dispatcher, then handles retry scheduling, dead-lettering,
// state persistence, callbacks, and lifecycle events.
type Executor struct {
	dispatcher    *channel.Dispatcher
	renderer      *template.Renderer
	callbacks     *job.CallbackRegistry
	extensions    *ext.Registry
	jobs          job.Store
	notifications notification.Store
	dlqService    *dlq.Service
	backoff       backoff.Strategy
	mw            middleware.Middleware
	logger        *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	dispatcher *channel.Dispatcher,
	renderer *template.Renderer,
	callbacks *job.CallbackRegistry,
	extensions *ext.Registry,
	jobs job.Store,
	notifications notification.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		dispatcher:    dispatcher,
		renderer:      renderer,
		callbacks:     callbacks,
		extensions:    extensions,
		jobs:          jobs,
		notifications: notifications,
		dlqService:    dlqService,
		backoff:       bo,
		mw:            middleware.Chain(mws...),
		logger:        logger,
	}
}

// Execute runs one delivery attempt for the job.
//
// On success the job completes and the success callback fires. A
// retryable failure with budget left moves the job to retry_scheduled
// with a backoff delay. A retryable failure with no budget left
// dead-letters the job. A non-retryable failure (validation, unknown
// channel, unregistered template) fails the job immediately without
// consuming the retry budget.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.State = job.StateProcessing
	j.StartedAt = &now
	j.Touch()

	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to claim job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return e.attempt(ctx, j)
	})
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, elapsed)
}

// attempt renders the template (if any) and dispatches the notification.
func (e *Executor) attempt(ctx context.Context, j *job.Job) error {
	if j.Notification == nil {
		return fmt.Errorf("job %s carries no notification", j.ID)
	}

	if j.Template != "" {
		body, err := e.renderer.Render(j.Template, j.Data)
		if err != nil {
			return err
		}
		j.Notification.Message = body
	}

	sendStart := time.Now()
	_, err := e.dispatcher.Dispatch(ctx, j.Notification)
	sendElapsed := time.Since(sendStart)

	// Persist whatever the dispatcher did to the notification. Unknown
	// channel and validation failures leave it untouched, so there is
	// nothing to write in those cases.
	switch j.Notification.Status {
	case notification.StatusSent, notification.StatusFailed:
		if uerr := e.notifications.UpdateNotification(ctx, j.Notification); uerr != nil {
			e.logger.Error("failed to persist notification outcome",
				slog.String("notification_id", j.Notification.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
	}

	if err != nil {
		if j.Notification.Status == notification.StatusFailed {
			e.extensions.EmitNotificationFailed(ctx, j.Notification, err)
		}
		return err
	}

	e.extensions.EmitNotificationSent(ctx, j.Notification, sendElapsed)
	return nil
}

// handleSuccess marks the job completed, fires the completion event and
// the success callback.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""
	j.Touch()

	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	e.runCallback(ctx, j.OnSuccess, j, nil)
	return nil
}

// handleFailure classifies the error and routes the job to the retry,
// failed, or dead-letter path.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, attemptErr error) error {
	if !retryable(attemptErr) {
		return e.failJob(ctx, j, attemptErr)
	}
	// This failed attempt counts against the budget before the retry
	// decision, so MaxRetries failures produce exactly MaxRetries sends.
	j.Retries++
	if j.RetryBudgetLeft() {
		return e.scheduleRetry(ctx, j, attemptErr)
	}
	return e.deadLetter(ctx, j, attemptErr)
}

// scheduleRetry parks the job until its backoff delay elapses. The
// store loader re-enqueues it when RunAt fires.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, cause error) error {
	delay := e.backoff.Delay(j.Retries)
	j.ScheduleRetry(delay, cause)

	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Retries, j.RunAt)

	e.logger.Info("delivery scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("channel", jobChannel(j)),
		slog.Int("attempt", j.Retries),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.ID, j.Retries, j.MaxRetries, cause)
}

// failJob terminally fails a job whose error can never succeed on
// retry. The retry budget is not consumed.
func (e *Executor) failJob(ctx context.Context, j *job.Job, cause error) error {
	j.State = job.StateFailed
	j.LastError = cause.Error()
	j.Touch()

	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, cause)
	e.runCallback(ctx, j.OnFailure, j, cause)

	e.logger.Warn("job failed without retry",
		slog.String("job_id", j.ID.String()),
		slog.String("channel", jobChannel(j)),
		slog.String("error", cause.Error()),
	)

	return cause
}

// deadLetter moves an exhausted job to the dead-letter queue.
func (e *Executor) deadLetter(ctx context.Context, j *job.Job, cause error) error {
	j.State = job.StateDeadLetter
	j.LastError = cause.Error()
	j.Touch()

	if j.Notification != nil {
		j.Notification.Status = notification.StatusDeadLetter
		j.Notification.Touch()
		if uerr := e.notifications.UpdateNotification(ctx, j.Notification); uerr != nil {
			e.logger.Error("failed to persist dead-lettered notification",
				slog.String("notification_id", j.Notification.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
	}

	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as dead-lettered",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, cause); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, cause)
	e.extensions.EmitJobDLQ(ctx, j, cause)
	e.runCallback(ctx, j.OnFailure, j, cause)

	e.logger.Warn("job dead-lettered after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("channel", jobChannel(j)),
		slog.Int("retries", j.Retries),
		slog.String("error", cause.Error()),
	)

	return cause
}

// runCallback resolves a callback name against the registry and invokes
// it. Unknown names are logged, never executed. A panicking callback
// must not take the worker down with it.
func (e *Executor) runCallback(ctx context.Context, name string, j *job.Job, deliveryErr error) {
	if name == "" {
		return
	}

	cb, ok := e.callbacks.Get(name)
	if !ok {
		e.logger.Warn("callback not registered",
			slog.String("callback", name),
			slog.String("job_id", j.ID.String()),
			slog.String("error", herald.ErrUnknownCallback.Error()),
		)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("callback panicked",
				slog.String("callback", name),
				slog.String("job_id", j.ID.String()),
				slog.Any("panic", r),
			)
		}
	}()
	cb(ctx, j, deliveryErr)
}

// retryable reports whether another attempt could plausibly succeed.
// Validation failures, unknown channels, and unregistered templates are
// deterministic and never retried; everything else (transport errors,
// timeouts, render failures against live data) is.
func retryable(err error) bool {
	var vErr *channel.ValidationError
	if errors.As(err, &vErr) {
		return false
	}
	if errors.Is(err, herald.ErrUnknownChannel) {
		return false
	}
	if errors.Is(err, template.ErrNotFound) {
		return false
	}
	return true
}

func jobChannel(j *job.Job) string {
	if j.Notification != nil {
		return j.Notification.Channel
	}
	return ""
}
