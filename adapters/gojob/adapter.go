package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDConfirmation   = "pix.notify.confirmation"
	JobIDInternalNotice = "pix.notify.internal"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NoticeMessage maps a notice onto a go-job execution message. The
// idempotency key is stable per job, transaction and event so a replayed
// effect run does not notify twice.
func NoticeMessage(jobID string, notice core.Notice) *job.ExecutionMessage {
	jobID = strings.TrimSpace(jobID)
	transactionID := strings.TrimSpace(notice.TransactionID)
	params := map[string]any{
		"transaction_id": transactionID,
		"event":          string(notice.Event),
		"amount":         notice.Amount,
	}
	if notice.ClientEmail != "" {
		params["client_email"] = notice.ClientEmail
	}
	if notice.RequestID != "" {
		params["request_id"] = notice.RequestID
	}
	if !notice.OccurredAt.IsZero() {
		params["occurred_at"] = notice.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     params,
		IdempotencyKey: strings.Join([]string{jobID, transactionID, string(notice.Event)}, ":"),
	}
}

// NoticeFromMessage reverses NoticeMessage.
func NoticeFromMessage(msg *job.ExecutionMessage) (core.Notice, error) {
	if msg == nil {
		return core.Notice{}, fmt.Errorf("gojob: execution message is required")
	}
	notice := core.Notice{
		TransactionID: stringParam(msg.Parameters, "transaction_id"),
		Event:         core.EventType(stringParam(msg.Parameters, "event")),
		Amount:        stringParam(msg.Parameters, "amount"),
		ClientEmail:   stringParam(msg.Parameters, "client_email"),
		RequestID:     stringParam(msg.Parameters, "request_id"),
	}
	if notice.TransactionID == "" {
		return core.Notice{}, fmt.Errorf("gojob: message %q has no transaction_id", msg.JobID)
	}
	if raw := stringParam(msg.Parameters, "occurred_at"); raw != "" {
		occurredAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.Notice{}, fmt.Errorf("gojob: message %q occurred_at: %w", msg.JobID, err)
		}
		notice.OccurredAt = occurredAt.UTC()
	}
	return notice, nil
}

// NoticeEnqueuer turns confirmation and internal notices into queued jobs.
type NoticeEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewNoticeEnqueuer(enqueuer queue.Enqueuer) *NoticeEnqueuer {
	return &NoticeEnqueuer{enqueuer: enqueuer}
}

func (a *NoticeEnqueuer) SendConfirmation(ctx context.Context, notice core.Notice) error {
	return a.enqueue(ctx, JobIDConfirmation, notice)
}

func (a *NoticeEnqueuer) NotifyInternal(ctx context.Context, notice core.Notice) error {
	return a.enqueue(ctx, JobIDInternalNotice, notice)
}

func (a *NoticeEnqueuer) enqueue(ctx context.Context, jobID string, notice core.Notice) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(notice.TransactionID) == "" {
		return fmt.Errorf("gojob: notice transaction id is required")
	}
	return a.enqueuer.Enqueue(ctx, NoticeMessage(jobID, notice))
}

// NoticeHandler delivers one decoded notice.
type NoticeHandler func(ctx context.Context, jobID string, notice core.Notice) error

// NoticeConsumer pulls notice jobs off a dequeuer, hands them to a handler and
// acks or nacks them under a RetryPolicy.
type NoticeConsumer struct {
	dequeuer queue.Dequeuer
	handler  NoticeHandler
	policy   RetryPolicy
	hook     worker.Hook
	retry    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type ConsumerOption func(*NoticeConsumer)

func WithHook(hook worker.Hook) ConsumerOption {
	return func(c *NoticeConsumer) {
		c.hook = hook
	}
}

func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *NoticeConsumer) {
		if delay >= 0 {
			c.retry = delay
		}
	}
}

func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *NoticeConsumer) {
		if now != nil {
			c.now = now
		}
	}
}

func NewNoticeConsumer(dequeuer queue.Dequeuer, handler NoticeHandler, policy RetryPolicy, opts ...ConsumerOption) (*NoticeConsumer, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("gojob: notice handler is required")
	}
	consumer := &NoticeConsumer{
		dequeuer: dequeuer,
		handler:  handler,
		policy:   policy,
		retry:    5 * time.Second,
		now:      time.Now,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer, nil
}

// ProcessNext handles a single delivery. Handler failures are nacked and do
// not surface as errors; only queue failures do.
func (c *NoticeConsumer) ProcessNext(ctx context.Context) error {
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	key := ""
	if msg != nil {
		key = msg.IdempotencyKey
	}
	attempt := c.nextAttempt(key)
	started := c.now()
	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: started,
	}
	c.hooks().OnStart(ctx, event)

	notice, err := NoticeFromMessage(msg)
	if err != nil {
		event.Err = err
		event.Duration = c.now().Sub(started)
		c.hooks().OnFailure(ctx, event)
		c.forget(key)
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	jobID := ""
	if msg != nil {
		jobID = msg.JobID
	}
	if handleErr := c.handler(ctx, jobID, notice); handleErr != nil {
		event.Err = handleErr
		event.Duration = c.now().Sub(started)
		opts := c.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   c.retry,
			Requeue: true,
			Reason:  handleErr.Error(),
		}, attempt)
		event.Delay = opts.Delay
		if opts.Requeue {
			c.hooks().OnRetry(ctx, event)
		} else {
			c.hooks().OnFailure(ctx, event)
			c.forget(key)
		}
		return delivery.Nack(ctx, opts)
	}

	event.Duration = c.now().Sub(started)
	c.hooks().OnSuccess(ctx, event)
	c.forget(key)
	return delivery.Ack(ctx)
}

// Run processes deliveries until ctx is done.
func (c *NoticeConsumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (c *NoticeConsumer) nextAttempt(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[key]++
	return c.attempts[key]
}

func (c *NoticeConsumer) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, key)
}

func (c *NoticeConsumer) hooks() worker.Hook {
	if c.hook == nil {
		return nopHook{}
	}
	return c.hook
}

type nopHook struct{}

func (nopHook) OnStart(context.Context, worker.Event)   {}
func (nopHook) OnSuccess(context.Context, worker.Event) {}
func (nopHook) OnFailure(context.Context, worker.Event) {}
func (nopHook) OnRetry(context.Context, worker.Event)   {}

// LoggingHook reports worker events through the webhook observer.
type LoggingHook struct {
	observer core.Observer
}

func NewLoggingHook(logger core.Logger, metrics core.MetricsRecorder) *LoggingHook {
	return &LoggingHook{observer: core.NewObserver(logger, metrics)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.observer.Debug(ctx, "notice job started", eventFields(event))
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observer.Info(ctx, "notice job delivered", eventFields(event))
	h.observer.Count(ctx, core.MetricNoticeJobs, 1, map[string]string{"outcome": "delivered"})
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observer.Critical(ctx, "notice job failed permanently", eventFields(event))
	h.observer.Count(ctx, core.MetricNoticeJobs, 1, map[string]string{"outcome": "failed"})
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.observer.Warn(ctx, "notice job retry scheduled", eventFields(event))
	h.observer.Count(ctx, core.MetricNoticeJobs, 1, map[string]string{"outcome": "retry"})
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"attempt": event.Attempt,
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		fields["job_id"] = message.JobID
		fields["idempotency_key"] = message.IdempotencyKey
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	switch typed := params[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

var (
	_ core.ConfirmationSender = (*NoticeEnqueuer)(nil)
	_ core.InternalNotifier   = (*NoticeEnqueuer)(nil)
	_ worker.Hook             = (*LoggingHook)(nil)
)
