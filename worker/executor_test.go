package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/backoff"
	"github.com/herald-sh/herald/channel"
	"github.com/herald-sh/herald/dlq"
	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/middleware"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/store/memory"
	"github.com/herald-sh/herald/template"
	"github.com/herald-sh/herald/worker"
)

// flakyChannel fails a configurable number of sends before succeeding.
type flakyChannel struct {
	name        string
	validateErr error
	failures    int
	sends       atomic.Int32
}

func (c *flakyChannel) Name() string { return c.name }

func (c *flakyChannel) Validate(_ *notification.Notification) error {
	return c.validateErr
}

func (c *flakyChannel) Send(_ context.Context, n *notification.Notification) (*channel.Result, error) {
	attempt := int(c.sends.Add(1))
	if attempt <= c.failures {
		return nil, &channel.ChannelError{Channel: c.name, Err: errors.New("connection refused")}
	}
	return &channel.Result{Channel: c.name}, nil
}

type executorFixture struct {
	executor  *worker.Executor
	store     *memory.Store
	callbacks *job.CallbackRegistry
	renderer  *template.Renderer
	channel   *flakyChannel
}

func setupExecutor(t *testing.T, ch *flakyChannel) *executorFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	s := memory.New()
	dispatcher := channel.NewDispatcher(logger)
	if ch != nil {
		dispatcher.Register(ch)
	}
	renderer := template.NewRenderer()
	callbacks := job.NewCallbackRegistry()
	extensions := ext.NewRegistry(logger)
	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(time.Millisecond)

	executor := worker.NewExecutor(
		dispatcher, renderer, callbacks, extensions,
		s, s, dlqSvc, bo, logger,
		middleware.Recover(logger),
	)

	return &executorFixture{
		executor:  executor,
		store:     s,
		callbacks: callbacks,
		renderer:  renderer,
		channel:   ch,
	}
}

func seedJob(t *testing.T, f *executorFixture, j *job.Job) {
	t.Helper()
	ctx := context.Background()
	if j.Notification != nil {
		if err := f.store.SaveNotification(ctx, j.Notification); err != nil {
			t.Fatalf("save notification: %v", err)
		}
	}
	if err := f.store.SaveJob(ctx, j); err != nil {
		t.Fatalf("save job: %v", err)
	}
}

func TestExecutorSuccess(t *testing.T) {
	ch := &flakyChannel{name: "email"}
	f := setupExecutor(t, ch)

	var cbErr atomic.Value
	var cbCount atomic.Int32
	f.callbacks.Register("notify-ok", func(_ context.Context, _ *job.Job, deliveryErr error) {
		cbCount.Add(1)
		cbErr.Store(deliveryErr == nil)
	})

	j := job.New(notification.New("email", "a@example.com", "hi", "hello"), 3)
	j.OnSuccess = "notify-ok"
	seedJob(t, f, j)

	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q", j.State, job.StateCompleted)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got := cbCount.Load(); got != 1 {
		t.Errorf("success callback ran %d times, want 1", got)
	}
	if ok, _ := cbErr.Load().(bool); !ok {
		t.Error("success callback received a non-nil delivery error")
	}

	// Notification outcome persisted.
	n, err := f.store.GetNotification(context.Background(), j.Notification.ID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notification.StatusSent {
		t.Errorf("notification status = %q, want %q", n.Status, notification.StatusSent)
	}
	if n.SentAt == nil {
		t.Error("SentAt not set")
	}
}

func TestExecutorRetryThenSuccess(t *testing.T) {
	ch := &flakyChannel{name: "email", failures: 2}
	f := setupExecutor(t, ch)
	ctx := context.Background()

	j := job.New(notification.New("email", "a@example.com", "hi", "hello"), 3)
	seedJob(t, f, j)

	// First two attempts fail and schedule retries.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := f.executor.Execute(ctx, j); err == nil {
			t.Fatalf("attempt %d: expected error", attempt)
		}
		if j.State != job.StateRetryScheduled {
			t.Fatalf("attempt %d: State = %q, want %q", attempt, j.State, job.StateRetryScheduled)
		}
		if j.Retries != attempt {
			t.Fatalf("attempt %d: Retries = %d", attempt, j.Retries)
		}
	}

	// Third attempt succeeds; the budget was consumed twice.
	if err := f.executor.Execute(ctx, j); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q", j.State, job.StateCompleted)
	}
	if j.Retries != 2 {
		t.Errorf("Retries = %d, want 2", j.Retries)
	}
	if got := ch.sends.Load(); got != 3 {
		t.Errorf("sends = %d, want 3", got)
	}
}

func TestExecutorValidationFailureNoRetry(t *testing.T) {
	ch := &flakyChannel{
		name:        "email",
		validateErr: &channel.ValidationError{Channel: "email", Field: "recipient", Reason: "not an address"},
	}
	f := setupExecutor(t, ch)

	var failed atomic.Int32
	f.callbacks.Register("notify-fail", func(_ context.Context, _ *job.Job, deliveryErr error) {
		if deliveryErr == nil {
			t.Error("failure callback received nil error")
		}
		failed.Add(1)
	})

	j := job.New(notification.New("email", "not-an-address", "hi", "hello"), 3)
	j.OnFailure = "notify-fail"
	seedJob(t, f, j)

	if err := f.executor.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error")
	}

	if j.State != job.StateFailed {
		t.Errorf("State = %q, want %q", j.State, job.StateFailed)
	}
	if j.Retries != 0 {
		t.Errorf("Retries = %d, want 0 (validation must not consume budget)", j.Retries)
	}
	if got := failed.Load(); got != 1 {
		t.Errorf("failure callback ran %d times, want 1", got)
	}
	if got := ch.sends.Load(); got != 0 {
		t.Errorf("Send called %d times, want 0", got)
	}

	// No DLQ entry for validation failures.
	count, err := f.store.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if count != 0 {
		t.Errorf("DLQ count = %d, want 0", count)
	}
}

func TestExecutorUnknownChannel(t *testing.T) {
	f := setupExecutor(t, nil)

	j := job.New(notification.New("carrier-pigeon", "coop 4", "hi", "hello"), 3)
	seedJob(t, f, j)

	err := f.executor.Execute(context.Background(), j)
	if !errors.Is(err, herald.ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want %q", j.State, job.StateFailed)
	}

	// The notification never reached sending.
	n, err := f.store.GetNotification(context.Background(), j.Notification.ID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notification.StatusPending {
		t.Errorf("notification status = %q, want %q", n.Status, notification.StatusPending)
	}
}

func TestExecutorDeadLetter(t *testing.T) {
	ch := &flakyChannel{name: "email", failures: 100}
	f := setupExecutor(t, ch)
	ctx := context.Background()

	var failureCalls atomic.Int32
	f.callbacks.Register("notify-fail", func(_ context.Context, _ *job.Job, _ error) {
		failureCalls.Add(1)
	})

	j := job.New(notification.New("email", "a@example.com", "hi", "hello"), 3)
	j.OnFailure = "notify-fail"
	seedJob(t, f, j)

	// The first two failures schedule retries; the third failed attempt
	// exhausts the budget and dead-letters.
	for attempt := 1; attempt <= 3; attempt++ {
		if err := f.executor.Execute(ctx, j); err == nil {
			t.Fatal("expected error")
		}
		if attempt < 3 && j.State != job.StateRetryScheduled {
			t.Fatalf("attempt %d: State = %q, want %q", attempt, j.State, job.StateRetryScheduled)
		}
	}

	if j.State != job.StateDeadLetter {
		t.Errorf("State = %q, want %q", j.State, job.StateDeadLetter)
	}
	if j.Retries != 3 {
		t.Errorf("Retries = %d, want 3", j.Retries)
	}
	if got := ch.sends.Load(); got != 3 {
		t.Errorf("sends = %d, want exactly MaxRetries attempts", got)
	}
	if got := failureCalls.Load(); got != 1 {
		t.Errorf("failure callback ran %d times, want 1 (terminal outcome only)", got)
	}

	count, err := f.store.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if count != 1 {
		t.Errorf("DLQ count = %d, want 1", count)
	}

	entries, err := f.store.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if entries[0].JobID != j.ID {
		t.Errorf("DLQ entry JobID = %v, want %v", entries[0].JobID, j.ID)
	}

	n, err := f.store.GetNotification(ctx, j.Notification.ID)
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if n.Status != notification.StatusDeadLetter {
		t.Errorf("notification status = %q, want %q", n.Status, notification.StatusDeadLetter)
	}
}

func TestExecutorRendersTemplate(t *testing.T) {
	ch := &flakyChannel{name: "email"}
	f := setupExecutor(t, ch)

	if err := f.renderer.Register("welcome", "Hello {{.name}}, welcome to {{.product}}!"); err != nil {
		t.Fatalf("register template: %v", err)
	}

	j := job.New(notification.New("email", "a@example.com", "welcome", ""), 3)
	j.Template = "welcome"
	j.Data = map[string]any{"name": "Ada", "product": "Herald"}
	seedJob(t, f, j)

	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if want := "Hello Ada, welcome to Herald!"; j.Notification.Message != want {
		t.Errorf("Message = %q, want %q", j.Notification.Message, want)
	}
}

func TestExecutorUnregisteredTemplateFailsImmediately(t *testing.T) {
	ch := &flakyChannel{name: "email"}
	f := setupExecutor(t, ch)

	j := job.New(notification.New("email", "a@example.com", "hi", ""), 3)
	j.Template = "missing"
	seedJob(t, f, j)

	err := f.executor.Execute(context.Background(), j)
	if !errors.Is(err, template.ErrNotFound) {
		t.Fatalf("err = %v, want template.ErrNotFound", err)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want %q", j.State, job.StateFailed)
	}
	if j.Retries != 0 {
		t.Errorf("Retries = %d, want 0", j.Retries)
	}
}

func TestExecutorUnknownCallbackIsIgnored(t *testing.T) {
	ch := &flakyChannel{name: "email"}
	f := setupExecutor(t, ch)

	j := job.New(notification.New("email", "a@example.com", "hi", "hello"), 3)
	j.OnSuccess = "never-registered"
	seedJob(t, f, j)

	// Must complete despite the unresolvable callback name.
	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q", j.State, job.StateCompleted)
	}
}

func TestExecutorPanickingCallback(t *testing.T) {
	ch := &flakyChannel{name: "email"}
	f := setupExecutor(t, ch)

	f.callbacks.Register("boom", func(_ context.Context, _ *job.Job, _ error) {
		panic("callback bug")
	})

	j := job.New(notification.New("email", "a@example.com", "hi", "hello"), 3)
	j.OnSuccess = "boom"
	seedJob(t, f, j)

	if err := f.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want %q", j.State, job.StateCompleted)
	}
}
