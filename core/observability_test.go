package core

import (
	"context"
	"testing"
)

func TestObserver_CriticalLogsAtErrorWithSeverity(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver(logger, nil)

	observer.Critical(context.Background(), "retry limit exceeded", map[string]any{
		"key":     "TRANSACTION_PAID:tx_1",
		"attempt": 4,
	})

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	record := records[0]
	if record.level != "error" {
		t.Fatalf("expected error level, got %q", record.level)
	}
	if record.fields["severity"] != LevelCritical {
		t.Fatalf("expected severity=critical, got %#v", record.fields["severity"])
	}
	if record.fields["key"] != "TRANSACTION_PAID:tx_1" {
		t.Fatalf("expected key field, got %#v", record.fields["key"])
	}
}

func TestObserver_LevelsRouteToLogger(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver(logger, nil)
	ctx := context.Background()

	observer.Debug(ctx, "d", nil)
	observer.Info(ctx, "i", nil)
	observer.Warn(ctx, "w", nil)
	observer.Error(ctx, "e", nil)

	records := logger.snapshot()
	want := []string{"debug", "info", "warn", "error"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for index, level := range want {
		if records[index].level != level {
			t.Fatalf("record %d: expected %q, got %q", index, level, records[index].level)
		}
	}
}

func TestObserver_DoesNotMutateCallerFields(t *testing.T) {
	observer := NewObserver(newCaptureLogger(), nil)
	fields := map[string]any{"key": "k"}
	observer.Critical(context.Background(), "dropped", fields)
	if _, ok := fields["severity"]; ok {
		t.Fatalf("expected caller fields to stay untouched")
	}
}

func TestObserver_ZeroValueIsSafe(t *testing.T) {
	var observer Observer
	observer.Info(context.Background(), "ignored", nil)
	observer.Count(context.Background(), MetricRequests, 1, nil)
	observer.Observe(context.Background(), MetricRequestDuration, 1, nil)
}

func TestObserver_MetricsCopyTags(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	observer := NewObserver(nil, metrics)
	tags := map[string]string{"status": StatusSuccess}

	observer.Count(context.Background(), MetricRequests, 1, tags)
	tags["status"] = "mutated"

	if len(metrics.counters) != 1 {
		t.Fatalf("expected one counter, got %d", len(metrics.counters))
	}
	if metrics.counters[0].tags["status"] != StatusSuccess {
		t.Fatalf("expected recorded tags to be a copy, got %#v", metrics.counters[0].tags)
	}
}
