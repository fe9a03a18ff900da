package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/notification"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/herald-sh/herald/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobEnqueued        = (*MetricsExtension)(nil)
	_ ext.JobCompleted       = (*MetricsExtension)(nil)
	_ ext.JobFailed          = (*MetricsExtension)(nil)
	_ ext.JobRetrying        = (*MetricsExtension)(nil)
	_ ext.JobDLQ             = (*MetricsExtension)(nil)
	_ ext.JobCancelled       = (*MetricsExtension)(nil)
	_ ext.NotificationSent   = (*MetricsExtension)(nil)
	_ ext.NotificationFailed = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel.
// Register it as an extension to automatically track enqueue rates,
// completion counts, failure rates, retry counts, DLQ entries, and
// per-channel delivery outcomes.
//
// If no MeterProvider is configured globally, the instruments are noop
// and the extension costs nothing.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	jobDLQ       metric.Int64Counter
	jobCancelled metric.Int64Counter
	sent         metric.Int64Counter
	sendFailed   metric.Int64Counter
	sendLatency  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.jobEnqueued, _ = meter.Int64Counter("herald.job.enqueued",
		metric.WithDescription("Jobs accepted into the queue"))
	m.jobCompleted, _ = meter.Int64Counter("herald.job.completed",
		metric.WithDescription("Jobs finished successfully"))
	m.jobFailed, _ = meter.Int64Counter("herald.job.failed",
		metric.WithDescription("Jobs failed terminally"))
	m.jobRetried, _ = meter.Int64Counter("herald.job.retried",
		metric.WithDescription("Retry attempts scheduled"))
	m.jobDLQ, _ = meter.Int64Counter("herald.job.dlq",
		metric.WithDescription("Jobs moved to the dead letter queue"))
	m.jobCancelled, _ = meter.Int64Counter("herald.job.cancelled",
		metric.WithDescription("Jobs cancelled before processing"))
	m.sent, _ = meter.Int64Counter("herald.notification.sent",
		metric.WithDescription("Notifications delivered, by channel"))
	m.sendFailed, _ = meter.Int64Counter("herald.notification.failed",
		metric.WithDescription("Delivery attempts failed, by channel"))
	m.sendLatency, _ = meter.Float64Histogram("herald.notification.latency",
		metric.WithDescription("Delivery latency in seconds, by channel"),
		metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func channelAttr(channel string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("channel", channel))
}

func jobChannel(j *job.Job) string {
	if j.Notification != nil {
		return j.Notification.Channel
	}
	return ""
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.jobDLQ.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.jobCancelled.Add(ctx, 1, channelAttr(jobChannel(j)))
	return nil
}

// ── Notification lifecycle hooks ────────────────────

// OnNotificationSent implements ext.NotificationSent.
func (m *MetricsExtension) OnNotificationSent(ctx context.Context, n *notification.Notification, elapsed time.Duration) error {
	m.sent.Add(ctx, 1, channelAttr(n.Channel))
	m.sendLatency.Record(ctx, elapsed.Seconds(), channelAttr(n.Channel))
	return nil
}

// OnNotificationFailed implements ext.NotificationFailed.
func (m *MetricsExtension) OnNotificationFailed(ctx context.Context, n *notification.Notification, _ error) error {
	m.sendFailed.Add(ctx, 1, channelAttr(n.Channel))
	return nil
}
