package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed raw configuration map.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

// Load decodes the raw configuration over defaults. Validation happens once
// the runtime layer is merged by the OptionsResolver.
func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw, cfgx.WithDefaults(defaults))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, true),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig runs the provider and resolver pair the way the runtime
// builder does. A nil provider or resolver falls back to the defaults.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	security := map[string]any{}
	if includeZero || len(cfg.Security.Tokens) > 0 {
		security["tokens"] = append([]string(nil), cfg.Security.Tokens...)
	}
	if includeZero || cfg.Security.RequireToken {
		security["require_token"] = cfg.Security.RequireToken
	}
	if includeZero || cfg.Security.MaxRequestBytes != 0 {
		security["max_request_bytes"] = cfg.Security.MaxRequestBytes
	}
	if includeZero || len(cfg.Security.AllowedIPs) > 0 {
		security["allowed_ips"] = append([]string(nil), cfg.Security.AllowedIPs...)
	}
	if includeZero || cfg.Security.RateLimitPerMinute != 0 {
		security["rate_limit_per_minute"] = cfg.Security.RateLimitPerMinute
	}
	putSection(layer, "security", security)

	idempotency := map[string]any{}
	if includeZero || cfg.Idempotency.TTLHours != 0 {
		idempotency["ttl_hours"] = cfg.Idempotency.TTLHours
	}
	if includeZero || cfg.Idempotency.SweepIntervalSeconds != 0 {
		idempotency["sweep_interval_seconds"] = cfg.Idempotency.SweepIntervalSeconds
	}
	if includeZero || cfg.Idempotency.MaxCacheEntries != 0 {
		idempotency["max_cache_entries"] = cfg.Idempotency.MaxCacheEntries
	}
	if includeZero || cfg.Idempotency.CacheTTLSeconds != 0 {
		idempotency["cache_ttl_seconds"] = cfg.Idempotency.CacheTTLSeconds
	}
	putSection(layer, "idempotency", idempotency)

	retry := map[string]any{}
	if includeZero || cfg.Retry.MaxAttempts != 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	if includeZero || cfg.Retry.DelaySeconds != 0 {
		retry["delay_seconds"] = cfg.Retry.DelaySeconds
	}
	if includeZero || cfg.Retry.DrainIntervalSeconds != 0 {
		retry["drain_interval_seconds"] = cfg.Retry.DrainIntervalSeconds
	}
	if includeZero || cfg.Retry.DrainBatchSize != 0 {
		retry["drain_batch_size"] = cfg.Retry.DrainBatchSize
	}
	if includeZero || cfg.Retry.DrainOnRequest {
		retry["drain_on_request"] = cfg.Retry.DrainOnRequest
	}
	putSection(layer, "retry", retry)

	effects := map[string]any{}
	if includeZero || cfg.Effects.TimeoutMS != 0 {
		effects["timeout_ms"] = cfg.Effects.TimeoutMS
	}
	if includeZero || strings.TrimSpace(cfg.Effects.PaymentMethod) != "" {
		effects["payment_method"] = cfg.Effects.PaymentMethod
	}
	if includeZero || strings.TrimSpace(cfg.Effects.SettledStatus) != "" {
		effects["settled_status"] = cfg.Effects.SettledStatus
	}
	putSection(layer, "effects", effects)
	return layer
}

func putSection(layer map[string]any, name string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[name] = section
}
