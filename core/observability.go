package core

import (
	"context"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelError    = "error"
	LevelCritical = "critical"
)

// Observer bundles the logger and metrics recorder a component reports to.
// The zero value is usable and discards everything.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
}

func NewObserver(logger Logger, metrics MetricsRecorder) Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Observer{Logger: glog.Ensure(logger), Metrics: metrics}
}

func (o Observer) Debug(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, LevelDebug, message, fields)
}

func (o Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, LevelInfo, message, fields)
}

func (o Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, LevelWarn, message, fields)
}

func (o Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, LevelError, message, fields)
}

// Critical logs at error level with severity=critical. These entries mark
// conditions that need manual intervention.
func (o Observer) Critical(ctx context.Context, message string, fields map[string]any) {
	o.Log(ctx, LevelCritical, message, fields)
}

func (o Observer) Log(ctx context.Context, level string, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields = RedactFields(fields)
	if level == LevelCritical {
		fields["severity"] = LevelCritical
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		logger.Debug(message, args...)
	case LevelWarn:
		logger.Warn(message, args...)
	case LevelError, LevelCritical:
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o Observer) Count(ctx context.Context, name string, value int64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (o Observer) Observe(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
