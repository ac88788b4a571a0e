package gologger

import (
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const DefaultLoggerName = "pix-webhooks"

// Resolve uses deterministic precedence provider > logger > nop. An empty name
// resolves the service root logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}
