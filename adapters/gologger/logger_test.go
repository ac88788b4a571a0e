package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("pix-webhooks", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("pix-webhooks", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type capturingLogger struct {
	id string
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Info(string, ...any)  {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}

func TestZapLogger_WritesKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	logger.Info("webhook processed", "key", "TRANSACTION_PAID:tx_1", "attempt", 1)
	withFields := logger.WithFields(map[string]any{"request_id": "req_1", "event": "TRANSACTION_PAID"})
	withFields.Error("webhook failed", "severity", "critical")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Message != "webhook processed" || first["key"] != "TRANSACTION_PAID:tx_1" {
		t.Fatalf("unexpected first entry: %s %#v", entries[0].Message, first)
	}
	second := entries[1].ContextMap()
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %s", entries[1].Level)
	}
	if second["request_id"] != "req_1" || second["event"] != "TRANSACTION_PAID" || second["severity"] != "critical" {
		t.Fatalf("expected bound and call fields, got %#v", second)
	}
}

func TestZapLogger_TraceMapsToDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFrom(zap.New(core))
	logger.Trace("tick")
	if logs.Len() != 1 || logs.All()[0].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace at debug level")
	}
}

func TestZapProvider_NamesChildLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	provider := NewZapProvider(NewZapLoggerFrom(zap.New(core)))

	_, resolved := Resolve("retry", provider, nil)
	resolved.Info("drained")
	if logs.Len() != 1 || logs.All()[0].LoggerName != "retry" {
		t.Fatalf("expected named child logger, got %#v", logs.All())
	}
}

func TestNewZapLogger_RejectsBadLevel(t *testing.T) {
	if _, err := NewZapLogger(ZapConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	logger, err := NewZapLogger(ZapConfig{Level: "info", Service: "pix-webhooks", OutputPaths: []string{"stderr"}})
	if err != nil {
		t.Fatalf("new zap logger: %v", err)
	}
	_ = logger.Sync()
}
