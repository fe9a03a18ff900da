package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/herald-sh/herald/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, tp
}

func TestTracing_CreatesSpan(t *testing.T) {
	recorder, tp := setupTestTracer()
	m := mw.TracingWithTracer(tp.Tracer("test"))
	j := newTestJob()

	if err := m(context.Background(), j, func(_ context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name() != "herald.job.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["herald.job.id"].AsString(); got != j.ID.String() {
		t.Errorf("herald.job.id = %q, want %q", got, j.ID)
	}
	if got := attrs["herald.channel"].AsString(); got != "email" {
		t.Errorf("herald.channel = %q, want email", got)
	}
}

func TestTracing_RecordsError(t *testing.T) {
	recorder, tp := setupTestTracer()
	m := mw.TracingWithTracer(tp.Tracer("test"))

	want := errors.New("smtp timeout")
	err := m(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestTracing_HandlerSeesSpanContext(t *testing.T) {
	_, tp := setupTestTracer()
	m := mw.TracingWithTracer(tp.Tracer("test"))

	var sawSpan bool
	_ = m(context.Background(), newTestJob(), func(ctx context.Context) error {
		sawSpan = trace.SpanContextFromContext(ctx).IsValid()
		return nil
	})

	if !sawSpan {
		t.Error("handler context carries no span")
	}
}
