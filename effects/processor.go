package effects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

const (
	StepPersistPayment    = "persist_payment"
	StepSendConfirmation  = "send_confirmation"
	StepGrantEntitlement  = "grant_entitlement"
	StepRevokeEntitlement = "revoke_entitlement"
	StepUpdateOrderStatus = "update_order_status"
	StepNotifyInternal    = "notify_internal"
	StepAuditBackup       = "audit_backup"
)

// Step is one row of a flow table.
type Step struct {
	Name       string
	Critical   bool
	Capability Capability
}

// Flow is the ordered step table for one event type. Guard, when set, turns
// the event into an ignored outcome by returning a non-empty reason.
type Flow struct {
	Status string
	Guard  func(envelope core.Envelope) string
	Steps  []Step
}

// Capabilities are the downstream collaborators the default flows use.
// Best-effort collaborators may be nil; their steps are skipped.
type Capabilities struct {
	Payments      core.PaymentRecorder
	Entitlements  core.EntitlementStore
	Orders        core.OrderStatusUpdater
	Confirmations core.ConfirmationSender
	Notifier      core.InternalNotifier
	Audit         core.AuditWriter
}

type Processor struct {
	flows         map[core.EventType]Flow
	timeout       time.Duration
	paymentMethod string
	settledStatus string
	observer      core.Observer

	Now func() time.Time
}

type Option func(*Processor)

func WithLogger(logger core.Logger) Option {
	return func(p *Processor) {
		p.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(p *Processor) {
		p.observer.Metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.Now = now
		}
	}
}

// WithFlow replaces the flow for one event type.
func WithFlow(event core.EventType, flow Flow) Option {
	return func(p *Processor) {
		p.flows[event] = flow
	}
}

func NewProcessor(cfg core.EffectsConfig, caps Capabilities, opts ...Option) (*Processor, error) {
	processor := &Processor{
		flows:         map[core.EventType]Flow{},
		timeout:       cfg.Timeout(),
		paymentMethod: strings.TrimSpace(cfg.PaymentMethod),
		settledStatus: strings.TrimSpace(cfg.SettledStatus),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if processor.timeout <= 0 {
		processor.timeout = 5 * time.Second
	}
	if processor.paymentMethod == "" {
		processor.paymentMethod = "PIX"
	}
	if processor.settledStatus == "" {
		processor.settledStatus = "COMPLETED"
	}
	processor.flows = processor.defaultFlows(caps)
	for _, opt := range opts {
		if opt != nil {
			opt(processor)
		}
	}
	processor.observer = core.NewObserver(processor.observer.Logger, processor.observer.Metrics)
	for event, flow := range processor.flows {
		for _, step := range flow.Steps {
			if step.Critical && step.Capability == nil {
				return nil, fmt.Errorf("effects: critical step %s of %s has no capability", step.Name, event)
			}
		}
	}
	return processor, nil
}

func (p *Processor) defaultFlows(caps Capabilities) map[core.EventType]Flow {
	return map[core.EventType]Flow{
		core.EventTransactionPaid: {
			Status: core.StatusSuccess,
			Guard:  p.paidGuard,
			Steps: []Step{
				{Name: StepPersistPayment, Critical: true, Capability: PersistPayment(caps.Payments)},
				{Name: StepSendConfirmation, Capability: SendConfirmation(caps.Confirmations)},
				{Name: StepGrantEntitlement, Critical: true, Capability: GrantEntitlement(caps.Entitlements)},
				{Name: StepUpdateOrderStatus, Critical: true, Capability: UpdateOrderStatus(caps.Orders, core.OrderStatusPaid)},
				{Name: StepNotifyInternal, Capability: NotifyInternal(caps.Notifier)},
				{Name: StepAuditBackup, Capability: WriteAudit(caps.Audit)},
			},
		},
		core.EventTransactionCreated: {
			Status: core.StatusCreated,
			Steps: []Step{
				{Name: StepUpdateOrderStatus, Critical: true, Capability: UpdateOrderStatus(caps.Orders, core.OrderStatusPending)},
			},
		},
		core.EventTransactionCanceled: {
			Status: core.StatusCanceled,
			Steps: []Step{
				{Name: StepUpdateOrderStatus, Critical: true, Capability: UpdateOrderStatus(caps.Orders, core.OrderStatusCanceled)},
			},
		},
		core.EventTransactionRefunded: {
			Status: core.StatusRefunded,
			Steps: []Step{
				{Name: StepUpdateOrderStatus, Critical: true, Capability: UpdateOrderStatus(caps.Orders, core.OrderStatusRefunded)},
				{Name: StepRevokeEntitlement, Critical: true, Capability: RevokeEntitlement(caps.Entitlements)},
				{Name: StepAuditBackup, Capability: WriteAudit(caps.Audit)},
			},
		},
	}
}

// paidGuard accepts only settled payments over the configured instrument.
func (p *Processor) paidGuard(envelope core.Envelope) string {
	tx := envelope.Transaction
	if tx == nil {
		return "transaction is missing"
	}
	if tx.PaymentMethod != p.paymentMethod {
		return fmt.Sprintf("payment method %q is not %s", tx.PaymentMethod, p.paymentMethod)
	}
	if tx.Status != p.settledStatus {
		return fmt.Sprintf("transaction status %q is not %s", tx.Status, p.settledStatus)
	}
	if tx.PixInformation != nil && strings.TrimSpace(tx.PixInformation.EndToEndID) == "" {
		return "pix payment has no endToEndId yet"
	}
	return ""
}

// Apply runs the flow for the envelope's event. Events without a flow, and
// events rejected by the flow guard, succeed with status ignored.
func (p *Processor) Apply(ctx context.Context, envelope core.Envelope, run core.EffectRun) (core.EffectResult, error) {
	result := core.EffectResult{Event: envelope.Event}
	fields := map[string]any{
		"event":          string(envelope.Event),
		"transaction_id": envelope.EntityID(),
		"request_id":     run.RequestID,
		"attempt":        run.Attempt,
	}

	flow, ok := p.flows[envelope.Event]
	if !ok {
		result.Success = true
		result.Status = core.StatusIgnored
		result.Message = "no effect flow for event"
		p.observer.Info(ctx, "webhook event ignored", fields)
		return result, nil
	}
	if flow.Guard != nil {
		if reason := flow.Guard(envelope); reason != "" {
			result.Success = true
			result.Status = core.StatusIgnored
			result.Message = reason
			p.observer.Info(ctx, "webhook event ignored", withField(fields, "reason", reason))
			return result, nil
		}
	}

	ec := EffectContext{Envelope: envelope, Run: run, Now: p.now()}
	for _, step := range flow.Steps {
		if step.Capability == nil {
			continue
		}
		err := p.runStep(ctx, step, ec)
		if err == nil {
			p.observer.Count(ctx, core.MetricEffectSteps, 1, map[string]string{"step": step.Name, "outcome": "success"})
			continue
		}
		stepFields := withField(withField(fields, "step", step.Name), "error", err.Error())
		if panicked, ok := err.(*stepPanic); ok {
			result.FailedStep = step.Name
			p.observer.Critical(ctx, "effect step panicked", stepFields)
			return result, core.NewInternalError(panicked, "effect step "+step.Name+" panicked", map[string]any{
				"step":  step.Name,
				"event": string(envelope.Event),
			})
		}
		if step.Critical {
			result.FailedStep = step.Name
			p.observer.Count(ctx, core.MetricEffectSteps, 1, map[string]string{"step": step.Name, "outcome": "failed"})
			p.observer.Error(ctx, "critical effect step failed", stepFields)
			return result, core.NewProcessingError(err, "effect step "+step.Name+" failed", map[string]any{
				"step":  step.Name,
				"event": string(envelope.Event),
			})
		}
		result.PartialFailures = append(result.PartialFailures, core.PartialFailure{Step: step.Name, Error: err.Error()})
		p.observer.Count(ctx, core.MetricEffectSteps, 1, map[string]string{"step": step.Name, "outcome": "partial"})
		p.observer.Warn(ctx, "best-effort effect step failed", stepFields)
	}

	result.Success = true
	result.Status = flow.Status
	p.observer.Info(ctx, "webhook effects applied", withField(fields, "status", flow.Status))
	return result, nil
}

type stepPanic struct {
	step  string
	value any
}

func (e *stepPanic) Error() string {
	return fmt.Sprintf("effects: step %s panicked: %v", e.step, e.value)
}

// runStep applies one capability under the step timeout. The capability runs
// on its own goroutine so a step that ignores its context still times out.
func (p *Processor) runStep(ctx context.Context, step Step, ec EffectContext) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- &stepPanic{step: step.Name, value: recovered}
			}
		}()
		done <- step.Capability.Apply(stepCtx, ec)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return fmt.Errorf("effects: step %s timed out after %s: %w", step.Name, p.timeout, stepCtx.Err())
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

var _ core.EffectApplier = (*Processor)(nil)
