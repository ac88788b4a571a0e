package inbound

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	"golang.org/x/time/rate"
)

const jsonContentType = "application/json"

// SecurityGate enforces transport constraints and the shared-secret token.
type SecurityGate struct {
	tokens       [][]byte
	requireToken bool
	maxBytes     int64
	allowed      []*net.IPNet
	limiter      *rate.Limiter
	observer     core.Observer
	now          func() time.Time
}

type GateOption func(*SecurityGate)

func WithGateLogger(logger core.Logger) GateOption {
	return func(g *SecurityGate) {
		g.observer.Logger = logger
	}
}

func WithGateMetrics(metrics core.MetricsRecorder) GateOption {
	return func(g *SecurityGate) {
		if metrics != nil {
			g.observer.Metrics = metrics
		}
	}
}

// WithGateClock replaces the clock used for rate limiting.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *SecurityGate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewSecurityGate(cfg core.SecurityConfig, opts ...GateOption) (*SecurityGate, error) {
	gate := &SecurityGate{
		requireToken: cfg.RequireToken,
		maxBytes:     cfg.MaxRequestBytes,
		observer:     core.NewObserver(nil, nil),
		now:          time.Now,
	}
	for _, token := range cfg.Tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			gate.tokens = append(gate.tokens, []byte(trimmed))
		}
	}
	if gate.requireToken && len(gate.tokens) == 0 {
		return nil, fmt.Errorf("inbound: at least one token is required in strict mode")
	}
	for _, entry := range cfg.AllowedIPs {
		network, err := parseAllowEntry(entry)
		if err != nil {
			return nil, err
		}
		if network != nil {
			gate.allowed = append(gate.allowed, network)
		}
	}
	if cfg.RateLimitPerMinute > 0 {
		gate.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), cfg.RateLimitPerMinute)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	gate.observer = core.NewObserver(gate.observer.Logger, gate.observer.Metrics)
	return gate, nil
}

// Admit runs the transport checks in order: method, content type, size,
// source address and rate limit.
func (g *SecurityGate) Admit(ctx context.Context, meta core.TransportMeta) error {
	if !strings.EqualFold(strings.TrimSpace(meta.Method), http.MethodPost) {
		return g.reject(ctx, meta, core.ReasonMethodNotAllowed, fmt.Sprintf("method %s not allowed", meta.Method))
	}
	if !strings.Contains(strings.ToLower(meta.ContentType), jsonContentType) {
		return g.reject(ctx, meta, core.ReasonUnsupportedMediaType, "content type must be application/json")
	}
	if g.maxBytes > 0 && (meta.ContentLength > g.maxBytes || meta.BodySize > g.maxBytes) {
		return g.reject(ctx, meta, core.ReasonPayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", g.maxBytes))
	}
	if len(g.allowed) > 0 && !g.ipAllowed(meta.RemoteIP) {
		return g.reject(ctx, meta, core.ReasonIPNotAllowed, "source address not allowed")
	}
	if g.limiter != nil && !g.limiter.AllowN(g.now(), 1) {
		return g.reject(ctx, meta, core.ReasonRateLimited, "rate limit exceeded")
	}
	return nil
}

// Authorize checks the shared-secret token. An absent token passes only in
// lenient mode; a wrong token never passes.
func (g *SecurityGate) Authorize(ctx context.Context, token string, meta core.TransportMeta) error {
	token = strings.TrimSpace(token)
	if token == "" {
		if g.requireToken {
			return g.reject(ctx, meta, core.ReasonTokenMissing, "webhook token is required")
		}
		g.observer.Warn(ctx, "webhook accepted without token", map[string]any{
			"ip":         meta.RemoteIP,
			"request_id": meta.RequestID,
		})
		return nil
	}
	if !g.tokenMatches(token) {
		return g.reject(ctx, meta, core.ReasonTokenInvalid, "webhook token is invalid")
	}
	return nil
}

// RequireToken reports whether the gate runs in strict mode.
func (g *SecurityGate) RequireToken() bool {
	return g.requireToken
}

func (g *SecurityGate) tokenMatches(token string) bool {
	candidate := []byte(token)
	matched := 0
	for _, expected := range g.tokens {
		matched |= subtle.ConstantTimeCompare(candidate, expected)
	}
	return matched == 1
}

func (g *SecurityGate) ipAllowed(remote string) bool {
	ip := net.ParseIP(hostOnly(remote))
	if ip == nil {
		return false
	}
	for _, network := range g.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *SecurityGate) reject(ctx context.Context, meta core.TransportMeta, reason string, message string) error {
	g.observer.Warn(ctx, "webhook security check failed", map[string]any{
		"reason":     reason,
		"ip":         meta.RemoteIP,
		"user_agent": meta.UserAgent,
		"request_id": meta.RequestID,
	})
	g.observer.Count(ctx, core.MetricSecurityRejections, 1, map[string]string{"reason": reason})
	return core.NewSecurityError(message, reason, map[string]any{"ip": meta.RemoteIP})
}

func parseAllowEntry(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, nil
	}
	if strings.Contains(entry, "/") {
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("inbound: invalid allow-list entry %q: %w", entry, err)
		}
		return network, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("inbound: invalid allow-list entry %q", entry)
	}
	bits := 128
	if ip.To4() != nil {
		ip = ip.To4()
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func hostOnly(remote string) string {
	remote = strings.TrimSpace(remote)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
