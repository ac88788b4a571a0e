package core

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	defaultMaxRequestBytes      = 1 << 20
	defaultRateLimitPerMinute   = 100
	defaultTTLHours             = 24
	defaultSweepIntervalSeconds = 3600
	defaultMaxCacheEntries      = 10000
	defaultCacheTTLSeconds      = 60
	defaultMaxRetryAttempts     = 3
	defaultRetryDelaySeconds    = 5
	defaultDrainIntervalSeconds = 5
	defaultDrainBatchSize       = 100
	defaultEffectTimeoutMS      = 5000
	defaultPaymentMethod        = "PIX"
	defaultSettledStatus        = "COMPLETED"
)

type SecurityConfig struct {
	Tokens             []string `koanf:"tokens" mapstructure:"tokens"`
	RequireToken       bool     `koanf:"require_token" mapstructure:"require_token"`
	MaxRequestBytes    int64    `koanf:"max_request_bytes" mapstructure:"max_request_bytes"`
	AllowedIPs         []string `koanf:"allowed_ips" mapstructure:"allowed_ips"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

type IdempotencyConfig struct {
	TTLHours             int `koanf:"ttl_hours" mapstructure:"ttl_hours"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds" mapstructure:"sweep_interval_seconds"`
	MaxCacheEntries      int `koanf:"max_cache_entries" mapstructure:"max_cache_entries"`
	CacheTTLSeconds      int `koanf:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
}

type RetryConfig struct {
	MaxAttempts          int  `koanf:"max_attempts" mapstructure:"max_attempts"`
	DelaySeconds         int  `koanf:"delay_seconds" mapstructure:"delay_seconds"`
	DrainIntervalSeconds int  `koanf:"drain_interval_seconds" mapstructure:"drain_interval_seconds"`
	DrainBatchSize       int  `koanf:"drain_batch_size" mapstructure:"drain_batch_size"`
	DrainOnRequest       bool `koanf:"drain_on_request" mapstructure:"drain_on_request"`
}

type EffectsConfig struct {
	TimeoutMS     int    `koanf:"timeout_ms" mapstructure:"timeout_ms"`
	PaymentMethod string `koanf:"payment_method" mapstructure:"payment_method"`
	SettledStatus string `koanf:"settled_status" mapstructure:"settled_status"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Security    SecurityConfig    `koanf:"security" mapstructure:"security"`
	Idempotency IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
	Retry       RetryConfig       `koanf:"retry" mapstructure:"retry"`
	Effects     EffectsConfig     `koanf:"effects" mapstructure:"effects"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "pix-webhooks",
		Security: SecurityConfig{
			RequireToken:       true,
			MaxRequestBytes:    defaultMaxRequestBytes,
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
		Idempotency: IdempotencyConfig{
			TTLHours:             defaultTTLHours,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			MaxCacheEntries:      defaultMaxCacheEntries,
			CacheTTLSeconds:      defaultCacheTTLSeconds,
		},
		Retry: RetryConfig{
			MaxAttempts:          defaultMaxRetryAttempts,
			DelaySeconds:         defaultRetryDelaySeconds,
			DrainIntervalSeconds: defaultDrainIntervalSeconds,
			DrainBatchSize:       defaultDrainBatchSize,
		},
		Effects: EffectsConfig{
			TimeoutMS:     defaultEffectTimeoutMS,
			PaymentMethod: defaultPaymentMethod,
			SettledStatus: defaultSettledStatus,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Security.RequireToken && len(nonEmpty(c.Security.Tokens)) == 0 {
		return fmt.Errorf("core: security.tokens is required when security.require_token is enabled")
	}
	if c.Security.MaxRequestBytes <= 0 {
		return fmt.Errorf("core: security.max_request_bytes must be positive")
	}
	if c.Security.RateLimitPerMinute < 0 {
		return fmt.Errorf("core: security.rate_limit_per_minute must not be negative")
	}
	for _, entry := range nonEmpty(c.Security.AllowedIPs) {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("core: security.allowed_ips entry %q is not an ip or cidr", entry)
		}
	}
	if c.Idempotency.TTLHours <= 0 {
		return fmt.Errorf("core: idempotency.ttl_hours must be positive")
	}
	if c.Idempotency.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("core: idempotency.sweep_interval_seconds must be positive")
	}
	if c.Idempotency.MaxCacheEntries < 0 {
		return fmt.Errorf("core: idempotency.max_cache_entries must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("core: retry.max_attempts must be positive")
	}
	if c.Retry.DelaySeconds < 0 {
		return fmt.Errorf("core: retry.delay_seconds must not be negative")
	}
	if c.Retry.DrainIntervalSeconds <= 0 {
		return fmt.Errorf("core: retry.drain_interval_seconds must be positive")
	}
	if c.Effects.TimeoutMS <= 0 {
		return fmt.Errorf("core: effects.timeout_ms must be positive")
	}
	if strings.TrimSpace(c.Effects.PaymentMethod) == "" {
		return fmt.Errorf("core: effects.payment_method is required")
	}
	if strings.TrimSpace(c.Effects.SettledStatus) == "" {
		return fmt.Errorf("core: effects.settled_status is required")
	}
	return nil
}

func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c IdempotencyConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c IdempotencyConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c RetryConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

func (c RetryConfig) DrainInterval() time.Duration {
	return time.Duration(c.DrainIntervalSeconds) * time.Second
}

func (c EffectsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
