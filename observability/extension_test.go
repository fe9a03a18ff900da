package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
	"github.com/herald-sh/herald/observability"
)

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtensionCountsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	ctx := context.Background()
	j := job.New(notification.New("email", "a@example.com", "s", "m"), 3)

	if err := m.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	_ = m.OnJobRetrying(ctx, j, 1, time.Now())
	_ = m.OnJobCompleted(ctx, j, time.Second)
	_ = m.OnJobFailed(ctx, j, errors.New("x"))
	_ = m.OnJobDLQ(ctx, j, errors.New("x"))
	_ = m.OnJobCancelled(ctx, j)

	for name, want := range map[string]int64{
		"herald.job.enqueued":  1,
		"herald.job.retried":   1,
		"herald.job.completed": 1,
		"herald.job.failed":    1,
		"herald.job.dlq":       1,
		"herald.job.cancelled": 1,
	} {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtensionDeliveryByChannel(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	ctx := context.Background()
	_ = m.OnNotificationSent(ctx, notification.New("email", "a@example.com", "s", "m"), 50*time.Millisecond)
	_ = m.OnNotificationSent(ctx, notification.New("webhook", "https://example.com/h", "s", "m"), time.Millisecond)
	_ = m.OnNotificationFailed(ctx, notification.New("email", "b@example.com", "s", "m"), errors.New("x"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var sentPoints []metricdata.DataPoint[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name == "herald.notification.sent" {
				sentPoints = metric.Data.(metricdata.Sum[int64]).DataPoints
			}
		}
	}
	if len(sentPoints) != 2 {
		t.Fatalf("sent data points = %d, want one per channel", len(sentPoints))
	}
	for _, dp := range sentPoints {
		ch, _ := dp.Attributes.Value(attribute.Key("channel"))
		if dp.Value != 1 {
			t.Errorf("channel %s sent = %d, want 1", ch.AsString(), dp.Value)
		}
	}

	if got := counterValue(t, reader, "herald.notification.failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}
