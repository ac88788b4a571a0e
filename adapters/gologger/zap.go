package gologger

import (
	"context"
	"os"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	_ "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
)

const EncodingLogfmt = "logfmt"

type ZapConfig struct {
	Level       string
	Encoding    string
	Service     string
	OutputPaths []string
}

// ZapLogger adapts a zap sugared logger to glog.Logger. Variadic args are
// treated as alternating key/value pairs.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger, encoded as logfmt unless the
// config asks otherwise.
func NewZapLogger(cfg ZapConfig) (*ZapLogger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = EncodingLogfmt
	if encoding := strings.TrimSpace(cfg.Encoding); encoding != "" {
		zcfg.Encoding = encoding
	}
	if level := strings.TrimSpace(cfg.Level); level != "" {
		if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	zcfg.InitialFields = map[string]any{}
	if host, err := os.Hostname(); err == nil {
		zcfg.InitialFields["host"] = host
	}
	if service := strings.TrimSpace(cfg.Service); service != "" {
		zcfg.InitialFields["service"] = service
	}
	zcfg.OutputPaths = []string{"stdout"}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = append([]string(nil), cfg.OutputPaths...)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLoggerFrom(logger), nil
}

func NewZapLoggerFrom(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *ZapLogger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, args...) }

func (l *ZapLogger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *ZapLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
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
	return &ZapLogger{sugar: l.sugar.With(args...)}
}

func (l *ZapLogger) Named(name string) *ZapLogger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &ZapLogger{sugar: l.sugar.Named(name)}
}

func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// ZapProvider hands out named children of one root logger.
type ZapProvider struct {
	root *ZapLogger
}

func NewZapProvider(root *ZapLogger) *ZapProvider {
	if root == nil {
		root = NewZapLoggerFrom(nil)
	}
	return &ZapProvider{root: root}
}

func (p *ZapProvider) GetLogger(name string) glog.Logger {
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*ZapLogger)(nil)
	_ glog.FieldsLogger   = (*ZapLogger)(nil)
	_ glog.LoggerProvider = (*ZapProvider)(nil)
)
