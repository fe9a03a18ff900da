package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/herald-sh/herald/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "herald.job.duration")
	if metric == nil {
		t.Fatal("herald.job.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(hist.DataPoints))
	}

	dp := hist.DataPoints[0]
	if status, _ := dp.Attributes.Value(attribute.Key("status")); status.AsString() != "ok" {
		t.Errorf("status = %q, want ok", status.AsString())
	}
	if ch, _ := dp.Attributes.Value(attribute.Key("channel")); ch.AsString() != "email" {
		t.Errorf("channel = %q, want email", ch.AsString())
	}
}

func TestMetrics_CountsErrorExecutions(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
		return errors.New("down")
	})
	_ = m(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "herald.job.executions")
	if metric == nil {
		t.Fatal("herald.job.executions metric not found")
	}

	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}

	var okCount, errCount int64
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		switch status.AsString() {
		case "ok":
			okCount += dp.Value
		case "error":
			errCount += dp.Value
		}
	}
	if okCount != 1 || errCount != 1 {
		t.Errorf("ok = %d, error = %d, want 1 and 1", okCount, errCount)
	}
}

func TestMetrics_PropagatesHandlerError(t *testing.T) {
	_, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	want := errors.New("boom")
	err := m(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
