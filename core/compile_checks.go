package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Logger          = glog.Nop()
	_ MetricsRecorder = NopMetricsRecorder{}
)
