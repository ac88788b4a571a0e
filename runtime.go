package pixwebhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/inbound"
	"github.com/goliatone/go-pix-webhooks/retry"
	"github.com/goliatone/go-pix-webhooks/webhooks"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// Runtime owns one fully wired webhook pipeline.
type Runtime struct {
	config      Config
	gate        *inbound.SecurityGate
	validator   *inbound.EventValidator
	store       *idempotency.Store
	queue       *retry.Queue
	processor   *effects.Processor
	coordinator *webhooks.Coordinator
	observer    core.Observer
}

type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
	backends *Backends
	cache    repositorycache.CacheService
	hooks    *ExtensionHooks
	flows    map[core.EventType]effects.Flow
}

func WithLogger(logger core.Logger) Option {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *runtimeOptions) {
		o.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *runtimeOptions) {
		o.now = now
	}
}

// WithBackends replaces the in-memory defaults.
func WithBackends(backends Backends) Option {
	return func(o *runtimeOptions) {
		o.backends = &backends
	}
}

// WithRecordCache enables the idempotency read-through cache.
func WithRecordCache(cache repositorycache.CacheService) Option {
	return func(o *runtimeOptions) {
		o.cache = cache
	}
}

// WithExtensionHooks fans audit and notification calls out to the sinks
// registered on hooks.
func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(o *runtimeOptions) {
		o.hooks = hooks
	}
}

// WithFlow overrides the effect flow for one event.
func WithFlow(event core.EventType, flow effects.Flow) Option {
	return func(o *runtimeOptions) {
		if o.flows == nil {
			o.flows = map[core.EventType]effects.Flow{}
		}
		o.flows[event] = flow
	}
}

// NewRuntime validates cfg and wires the pipeline. Without WithBackends every
// store lives in process memory.
func NewRuntime(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := runtimeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	backends := options.backends
	if backends == nil {
		memory, _ := MemoryBackends(cfg)
		backends = &memory
	}
	if backends.Ledger == nil || backends.Retry == nil {
		return nil, fmt.Errorf("pixwebhooks: idempotency ledger and retry backend are required")
	}
	caps := backends.Capabilities
	if options.hooks != nil {
		caps = options.hooks.Apply(caps, options.logger)
	}

	gate, err := inbound.NewSecurityGate(cfg.Security,
		inbound.WithGateLogger(options.logger),
		inbound.WithGateMetrics(options.metrics),
		inbound.WithGateClock(options.now),
	)
	if err != nil {
		return nil, err
	}

	storeOpts := []idempotency.Option{
		idempotency.WithLogger(options.logger),
		idempotency.WithMetrics(options.metrics),
		idempotency.WithClock(options.now),
		idempotency.WithLocker(backends.Locker),
	}
	if options.cache != nil {
		storeOpts = append(storeOpts, idempotency.WithCache(options.cache))
	}
	store, err := idempotency.NewStore(backends.Ledger, cfg.Idempotency, storeOpts...)
	if err != nil {
		return nil, err
	}

	queue, err := retry.NewQueue(backends.Retry, cfg.Retry,
		retry.WithLogger(options.logger),
		retry.WithMetrics(options.metrics),
		retry.WithClock(options.now),
	)
	if err != nil {
		return nil, err
	}

	processorOpts := []effects.Option{
		effects.WithLogger(options.logger),
		effects.WithMetrics(options.metrics),
		effects.WithClock(options.now),
	}
	for event, flow := range options.flows {
		processorOpts = append(processorOpts, effects.WithFlow(event, flow))
	}
	processor, err := effects.NewProcessor(cfg.Effects, caps, processorOpts...)
	if err != nil {
		return nil, err
	}

	validator := inbound.NewEventValidator()
	coordinator, err := webhooks.NewCoordinator(gate, validator, store, queue, processor,
		webhooks.WithLogger(options.logger),
		webhooks.WithMetrics(options.metrics),
		webhooks.WithClock(options.now),
		webhooks.WithDrainOnRequest(cfg.Retry.DrainOnRequest),
	)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		config:      cfg,
		gate:        gate,
		validator:   validator,
		store:       store,
		queue:       queue,
		processor:   processor,
		coordinator: coordinator,
		observer:    core.NewObserver(options.logger, options.metrics),
	}, nil
}

// Setup resolves cfg through the go-config/go-options layering before
// building the runtime. cfg is treated as the runtime override layer.
func Setup(ctx context.Context, provider core.ConfigProvider, cfg Config, opts ...Option) (*Runtime, error) {
	resolved, err := core.ResolveConfig(ctx, provider, core.GoOptionsResolver{}, cfg)
	if err != nil {
		return nil, err
	}
	return NewRuntime(resolved, opts...)
}

func (r *Runtime) Config() Config {
	return r.config
}

func (r *Runtime) Coordinator() *webhooks.Coordinator {
	return r.coordinator
}

func (r *Runtime) Store() *idempotency.Store {
	return r.store
}

func (r *Runtime) Queue() *retry.Queue {
	return r.queue
}

func (r *Runtime) Gate() *inbound.SecurityGate {
	return r.gate
}

// RetryRunner drains due retries on the configured interval.
func (r *Runtime) RetryRunner() (*webhooks.RetryRunner, error) {
	return webhooks.NewRetryRunner(r.coordinator, r.config.Retry.DrainInterval(), r.observer.Logger)
}
