package pixwebhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
)

// ExtensionHooks collects extra sinks that receive a copy of every audit
// entry and notice, e.g. a Mongo audit backup or a NATS notice stream.
type ExtensionHooks struct {
	mu sync.RWMutex

	auditSinks    map[string]core.AuditWriter
	notifiers     map[string]core.InternalNotifier
	confirmations map[string]core.ConfirmationSender
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		auditSinks:    map[string]core.AuditWriter{},
		notifiers:     map[string]core.InternalNotifier{},
		confirmations: map[string]core.ConfirmationSender{},
	}
}

func (h *ExtensionHooks) RegisterAuditSink(name string, sink core.AuditWriter) error {
	return register(h, h.auditSinksMap, "audit sink", name, sink)
}

func (h *ExtensionHooks) RegisterNotifier(name string, notifier core.InternalNotifier) error {
	return register(h, h.notifiersMap, "notifier", name, notifier)
}

func (h *ExtensionHooks) RegisterConfirmationSender(name string, sender core.ConfirmationSender) error {
	return register(h, h.confirmationsMap, "confirmation sender", name, sender)
}

func register[T comparable](h *ExtensionHooks, target func() map[string]T, kind string, name string, value T) error {
	if h == nil {
		return fmt.Errorf("pixwebhooks: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("pixwebhooks: %s name is required", kind)
	}
	var zero T
	if value == zero {
		return fmt.Errorf("pixwebhooks: %s %q is nil", kind, name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sinks := target()
	if _, exists := sinks[name]; exists {
		return fmt.Errorf("pixwebhooks: %s %q already registered", kind, name)
	}
	sinks[name] = value
	return nil
}

func (h *ExtensionHooks) auditSinksMap() map[string]core.AuditWriter { return h.auditSinks }

func (h *ExtensionHooks) notifiersMap() map[string]core.InternalNotifier { return h.notifiers }

func (h *ExtensionHooks) confirmationsMap() map[string]core.ConfirmationSender {
	return h.confirmations
}

// Names lists every registered sink as kind/name, sorted.
func (h *ExtensionHooks) Names() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.auditSinks)+len(h.notifiers)+len(h.confirmations))
	for name := range h.auditSinks {
		names = append(names, "audit/"+name)
	}
	for name := range h.notifiers {
		names = append(names, "notifier/"+name)
	}
	for name := range h.confirmations {
		names = append(names, "confirmation/"+name)
	}
	sort.Strings(names)
	return names
}

// Apply wraps the audit, notifier and confirmation capabilities so that the
// registered sinks run after the primary one. The primary decides the step
// result; sink failures are logged only. A missing primary is replaced by
// the first sink in name order.
func (h *ExtensionHooks) Apply(caps effects.Capabilities, logger core.Logger) effects.Capabilities {
	if h == nil {
		return caps
	}
	observer := core.NewObserver(logger, nil)
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.auditSinks) > 0 {
		fan := &auditFanout{primary: caps.Audit, observer: observer}
		for _, name := range sortedKeys(h.auditSinks) {
			fan.sinks = append(fan.sinks, namedSink[core.AuditWriter]{name: name, sink: h.auditSinks[name]})
		}
		caps.Audit = fan.normalize()
	}
	if len(h.notifiers) > 0 {
		fan := &noticeFanout{observer: observer, kind: "notifier"}
		if caps.Notifier != nil {
			fan.primary = caps.Notifier.NotifyInternal
		}
		for _, name := range sortedKeys(h.notifiers) {
			fan.sinks = append(fan.sinks, namedSink[func(context.Context, core.Notice) error]{name: name, sink: h.notifiers[name].NotifyInternal})
		}
		caps.Notifier = fan.normalize()
	}
	if len(h.confirmations) > 0 {
		fan := &noticeFanout{observer: observer, kind: "confirmation"}
		if caps.Confirmations != nil {
			fan.primary = caps.Confirmations.SendConfirmation
		}
		for _, name := range sortedKeys(h.confirmations) {
			fan.sinks = append(fan.sinks, namedSink[func(context.Context, core.Notice) error]{name: name, sink: h.confirmations[name].SendConfirmation})
		}
		caps.Confirmations = fan.normalize()
	}
	return caps
}

type namedSink[T any] struct {
	name string
	sink T
}

type auditFanout struct {
	primary  core.AuditWriter
	sinks    []namedSink[core.AuditWriter]
	observer core.Observer
}

func (f *auditFanout) normalize() *auditFanout {
	if f.primary == nil && len(f.sinks) > 0 {
		f.primary = f.sinks[0].sink
		f.sinks = f.sinks[1:]
	}
	return f
}

func (f *auditFanout) WriteAudit(ctx context.Context, entry core.AuditEntry) error {
	if err := f.primary.WriteAudit(ctx, entry); err != nil {
		return err
	}
	for _, sink := range f.sinks {
		if err := sink.sink.WriteAudit(ctx, entry); err != nil {
			f.observer.Warn(ctx, "audit sink failed", map[string]any{
				"sink":           sink.name,
				"transaction_id": entry.TransactionID,
				"error":          err.Error(),
			})
		}
	}
	return nil
}

type noticeFanout struct {
	kind     string
	primary  func(context.Context, core.Notice) error
	sinks    []namedSink[func(context.Context, core.Notice) error]
	observer core.Observer
}

func (f *noticeFanout) normalize() *noticeFanout {
	if f.primary == nil && len(f.sinks) > 0 {
		f.primary = f.sinks[0].sink
		f.sinks = f.sinks[1:]
	}
	return f
}

func (f *noticeFanout) deliver(ctx context.Context, notice core.Notice) error {
	if err := f.primary(ctx, notice); err != nil {
		return err
	}
	for _, sink := range f.sinks {
		if err := sink.sink(ctx, notice); err != nil {
			f.observer.Warn(ctx, "notice sink failed", map[string]any{
				"kind":           f.kind,
				"sink":           sink.name,
				"transaction_id": notice.TransactionID,
				"error":          err.Error(),
			})
		}
	}
	return nil
}

func (f *noticeFanout) NotifyInternal(ctx context.Context, notice core.Notice) error {
	return f.deliver(ctx, notice)
}

func (f *noticeFanout) SendConfirmation(ctx context.Context, notice core.Notice) error {
	return f.deliver(ctx, notice)
}

func sortedKeys[T any](values map[string]T) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ core.AuditWriter        = (*auditFanout)(nil)
	_ core.InternalNotifier   = (*noticeFanout)(nil)
	_ core.ConfirmationSender = (*noticeFanout)(nil)
)
