package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderToken     = "X-Webhook-Token"

	requestIDPrefix = "req_"
	drainUserAgent  = "pix-webhooks/retry-drain"
)

// Gate runs the transport and token checks.
type Gate interface {
	Admit(ctx context.Context, meta core.TransportMeta) error
	Authorize(ctx context.Context, token string, meta core.TransportMeta) error
}

type Validator interface {
	Parse(body []byte) (core.Envelope, error)
	Validate(envelope core.Envelope) error
}

// Outcome is the result of a delivery that reached the effect pipeline or a
// duplicate check. Status is one of the core.Status* values.
type Outcome struct {
	Status              string
	Event               core.EventType
	TransactionID       string
	Key                 string
	RequestID           string
	ProcessingTime      time.Duration
	OriginalProcessedAt *time.Time
	Result              core.EffectResult
}

type Coordinator struct {
	gate           Gate
	validator      Validator
	store          core.IdempotencyStore
	queue          core.RetryQueue
	effects        core.EffectApplier
	drainOnRequest bool
	observer       core.Observer

	Now func() time.Time

	stats counters
}

type counters struct {
	processed        atomic.Int64
	duplicates       atomic.Int64
	ignored          atomic.Int64
	failed           atomic.Int64
	rejected         atomic.Int64
	committed        atomic.Int64
	retriesScheduled atomic.Int64
	retriesDropped   atomic.Int64
	retriesApplied   atomic.Int64
}

type Option func(*Coordinator)

func WithLogger(logger core.Logger) Option {
	return func(c *Coordinator) {
		c.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(c *Coordinator) {
		c.observer.Metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.Now = now
		}
	}
}

// WithDrainOnRequest drains due retries at the start of every request.
func WithDrainOnRequest(enabled bool) Option {
	return func(c *Coordinator) {
		c.drainOnRequest = enabled
	}
}

func NewCoordinator(
	gate Gate,
	validator Validator,
	store core.IdempotencyStore,
	queue core.RetryQueue,
	effects core.EffectApplier,
	opts ...Option,
) (*Coordinator, error) {
	if gate == nil || validator == nil || store == nil || queue == nil || effects == nil {
		return nil, fmt.Errorf("webhooks: coordinator requires gate, validator, store, queue and effects")
	}
	coordinator := &Coordinator{
		gate:      gate,
		validator: validator,
		store:     store,
		queue:     queue,
		effects:   effects,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(coordinator)
		}
	}
	coordinator.observer = core.NewObserver(coordinator.observer.Logger, coordinator.observer.Metrics)
	return coordinator, nil
}

// NewRequestID returns req_ followed by 32 hex characters.
func NewRequestID() string {
	return requestIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Handle processes one inbound delivery. Errors are go-errors envelopes
// carrying one of the webhook text codes.
func (c *Coordinator) Handle(ctx context.Context, req core.InboundRequest) (Outcome, error) {
	start := c.now()
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = headerValue(req.Headers, HeaderRequestID)
	}
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = NewRequestID()
	}
	outcome := Outcome{RequestID: req.RequestID}

	outcome, err := c.handle(ctx, req, outcome)
	outcome.ProcessingTime = c.now().Sub(start)
	c.record(ctx, outcome, err)
	return outcome, err
}

func (c *Coordinator) handle(ctx context.Context, req core.InboundRequest, outcome Outcome) (Outcome, error) {
	meta := req.TransportMeta
	if err := c.gate.Admit(ctx, meta); err != nil {
		c.stats.rejected.Add(1)
		return outcome, err
	}

	if c.drainOnRequest {
		if _, err := c.DrainRetries(ctx); err != nil {
			c.observer.Error(ctx, "retry drain failed", map[string]any{"error": err.Error(), "request_id": req.RequestID})
		}
	}
	c.sweep(ctx)

	// A header token is checked before the body is parsed; a body token can
	// only be checked after.
	headerToken := strings.TrimSpace(headerValue(req.Headers, HeaderToken))
	if headerToken != "" {
		if err := c.authorize(ctx, headerToken, meta); err != nil {
			return outcome, err
		}
	}

	envelope, err := c.validator.Parse(req.Body)
	if err != nil {
		return outcome, err
	}
	outcome.Event = envelope.Event
	outcome.TransactionID = envelope.EntityID()

	if bodyToken := strings.TrimSpace(envelope.Token); headerToken == "" || (bodyToken != "" && bodyToken != headerToken) {
		if err := c.authorize(ctx, bodyToken, meta); err != nil {
			return outcome, err
		}
	}

	if err := c.validator.Validate(envelope); err != nil {
		c.observer.Warn(ctx, "webhook validation failed", map[string]any{
			"request_id": req.RequestID,
			"ip":         meta.RemoteIP,
			"error":      err.Error(),
		})
		return outcome, err
	}

	key := envelope.IdempotencyKey()
	if key == "" {
		return outcome, core.NewValidationError("webhook payload has no transaction or withdraw id")
	}
	outcome.Key = key

	release, err := c.store.Lock(ctx, key)
	if err != nil {
		return outcome, core.NewInternalError(err, "idempotency lock failed", map[string]any{"key": key})
	}
	defer release()

	work := context.WithoutCancel(ctx)
	record, processed, err := c.store.IsProcessed(work, key)
	if err != nil {
		return outcome, core.NewInternalError(err, "idempotency lookup failed", map[string]any{"key": key})
	}
	if processed {
		processedAt := record.ProcessedAt
		outcome.Status = core.StatusAlreadyProcessed
		outcome.OriginalProcessedAt = &processedAt
		c.observer.Info(ctx, "webhook already processed", map[string]any{
			"key":          key,
			"request_id":   req.RequestID,
			"processed_at": processedAt,
		})
		return outcome, nil
	}

	result, err := c.effects.Apply(work, envelope, core.EffectRun{
		RequestID: req.RequestID,
		Payload:   req.Body,
	})
	outcome.Result = result
	if err != nil {
		return outcome, c.scheduleFirstRetry(work, key, req, err)
	}

	outcome.Status = result.Status
	if result.Committable() {
		if _, err := c.store.Commit(work, key, envelope.Event, req.Meta()); err != nil {
			return outcome, core.NewInternalError(err, "idempotency commit failed", map[string]any{"key": key})
		}
		c.stats.committed.Add(1)
	}
	return outcome, nil
}

func (c *Coordinator) authorize(ctx context.Context, token string, meta core.TransportMeta) error {
	if err := c.gate.Authorize(ctx, token, meta); err != nil {
		c.stats.rejected.Add(1)
		return err
	}
	return nil
}

// scheduleFirstRetry turns a failed effect run into the error returned to the
// gateway. Processing errors are queued for attempt 1.
func (c *Coordinator) scheduleFirstRetry(ctx context.Context, key string, req core.InboundRequest, cause error) error {
	mapped := core.MapError(cause)
	if mapped.TextCode != core.ErrorProcessing {
		c.observer.Critical(ctx, "webhook effect failed with internal error", map[string]any{
			"key":        key,
			"request_id": req.RequestID,
			"error":      mapped.Error(),
		})
		return mapped
	}
	scheduled, err := c.queue.Schedule(ctx, key, req.Body, 1)
	switch {
	case err != nil:
		c.observer.Critical(ctx, "webhook retry could not be scheduled", map[string]any{
			"key":        key,
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
	case scheduled:
		c.stats.retriesScheduled.Add(1)
	default:
		c.stats.retriesDropped.Add(1)
	}
	return mapped.WithMetadata(map[string]any{"key": key, "retry_scheduled": scheduled})
}

func (c *Coordinator) sweep(ctx context.Context) {
	removed, err := c.store.Sweep(ctx)
	if err != nil {
		c.observer.Error(ctx, "idempotency sweep failed", map[string]any{"error": err.Error()})
		return
	}
	if removed > 0 {
		c.observer.Debug(ctx, "idempotency sweep ran", map[string]any{"removed": removed})
	}
}

func (c *Coordinator) record(ctx context.Context, outcome Outcome, err error) {
	status := outcome.Status
	fields := map[string]any{
		"request_id":         outcome.RequestID,
		"event":              string(outcome.Event),
		"transaction_id":     outcome.TransactionID,
		"processing_time_ms": outcome.ProcessingTime.Milliseconds(),
	}
	if err != nil {
		mapped := core.MapError(err)
		status = strings.ToLower(mapped.TextCode)
		fields["error_code"] = mapped.TextCode
		if mapped.TextCode == core.ErrorProcessing || mapped.TextCode == core.ErrorInternal {
			c.stats.failed.Add(1)
		}
	} else {
		switch outcome.Status {
		case core.StatusAlreadyProcessed:
			c.stats.duplicates.Add(1)
		case core.StatusIgnored:
			c.stats.ignored.Add(1)
		default:
			c.stats.processed.Add(1)
		}
		fields["status"] = outcome.Status
		c.observer.Info(ctx, "webhook handled", fields)
	}
	tags := map[string]string{"status": status}
	c.observer.Count(ctx, core.MetricRequests, 1, tags)
	c.observer.Observe(ctx, core.MetricRequestDuration, float64(outcome.ProcessingTime.Milliseconds()), tags)
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func headerValue(headers map[string]string, name string) string {
	if value, ok := headers[name]; ok {
		return strings.TrimSpace(value)
	}
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// StatusCode returns the HTTP status for an error returned by Handle.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := core.MapError(err)
	if mapped.Code > 0 {
		return mapped.Code
	}
	return http.StatusInternalServerError
}

// errorEnvelope narrows err to the go-errors envelope used in responses.
func errorEnvelope(err error) *goerrors.Error {
	return core.MapError(err)
}
