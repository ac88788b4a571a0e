package core

import "context"

// Metric names emitted by the webhook pipeline.
const (
	MetricRequests           = "pix_webhooks.requests.total"
	MetricRequestDuration    = "pix_webhooks.requests.duration_ms"
	MetricEffectSteps        = "pix_webhooks.effects.steps.total"
	MetricRetriesScheduled   = "pix_webhooks.retries.scheduled.total"
	MetricRetriesDropped     = "pix_webhooks.retries.dropped.total"
	MetricRetriesDrained     = "pix_webhooks.retries.drained.total"
	MetricIdempotencySwept   = "pix_webhooks.idempotency.swept.total"
	MetricIdempotencyCommit  = "pix_webhooks.idempotency.commits.total"
	MetricSecurityRejections = "pix_webhooks.security.rejections.total"
	MetricNoticeJobs         = "pix_webhooks.notices.jobs.total"
	MetricNoticesPublished   = "pix_webhooks.notices.published.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
