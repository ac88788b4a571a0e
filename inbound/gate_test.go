package inbound

import (
	"context"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
)

var gateNow = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

func testSecurityConfig() core.SecurityConfig {
	cfg := core.DefaultConfig().Security
	cfg.Tokens = []string{"secret-a", "secret-b"}
	return cfg
}

func newTestGate(t *testing.T, cfg core.SecurityConfig) *SecurityGate {
	t.Helper()
	gate, err := NewSecurityGate(cfg, WithGateClock(func() time.Time { return gateNow }))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func validMeta() core.TransportMeta {
	return core.TransportMeta{
		Method:        http.MethodPost,
		ContentType:   "application/json; charset=utf-8",
		ContentLength: 120,
		BodySize:      120,
		RemoteIP:      "203.0.113.10",
		RequestID:     "req_test",
	}
}

func assertSecurityReason(t *testing.T, err error, reason string, code int) {
	t.Helper()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope for %s, got %v", reason, err)
	}
	if rich.TextCode != core.ErrorSecurity {
		t.Fatalf("expected security text code, got %q", rich.TextCode)
	}
	if got := core.SecurityReason(rich); got != reason {
		t.Fatalf("expected reason %q, got %q", reason, got)
	}
	if rich.Code != code {
		t.Fatalf("expected status %d, got %d", code, rich.Code)
	}
}

func TestSecurityGate_AdmitTransportChecks(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.MaxRequestBytes = 1024
	gate := newTestGate(t, cfg)
	ctx := context.Background()

	if err := gate.Admit(ctx, validMeta()); err != nil {
		t.Fatalf("expected admit, got %v", err)
	}

	meta := validMeta()
	meta.Method = http.MethodGet
	assertSecurityReason(t, gate.Admit(ctx, meta), core.ReasonMethodNotAllowed, http.StatusUnauthorized)

	meta = validMeta()
	meta.ContentType = "text/plain"
	assertSecurityReason(t, gate.Admit(ctx, meta), core.ReasonUnsupportedMediaType, http.StatusUnauthorized)

	meta = validMeta()
	meta.BodySize = 2048
	assertSecurityReason(t, gate.Admit(ctx, meta), core.ReasonPayloadTooLarge, http.StatusUnauthorized)
}

func TestSecurityGate_AllowList(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.AllowedIPs = []string{"10.0.0.0/8", "203.0.113.10"}
	gate := newTestGate(t, cfg)
	ctx := context.Background()

	meta := validMeta()
	meta.RemoteIP = "203.0.113.10:51234"
	if err := gate.Admit(ctx, meta); err != nil {
		t.Fatalf("expected listed ip with port to pass, got %v", err)
	}
	meta.RemoteIP = "10.20.30.40"
	if err := gate.Admit(ctx, meta); err != nil {
		t.Fatalf("expected cidr member to pass, got %v", err)
	}
	meta.RemoteIP = "198.51.100.7"
	assertSecurityReason(t, gate.Admit(ctx, meta), core.ReasonIPNotAllowed, http.StatusUnauthorized)
}

func TestSecurityGate_RateLimit(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.RateLimitPerMinute = 2
	gate := newTestGate(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := gate.Admit(ctx, validMeta()); err != nil {
			t.Fatalf("request %d: expected admit, got %v", i, err)
		}
	}
	assertSecurityReason(t, gate.Admit(ctx, validMeta()), core.ReasonRateLimited, http.StatusTooManyRequests)
}

func TestSecurityGate_StrictTokenMode(t *testing.T) {
	gate := newTestGate(t, testSecurityConfig())
	ctx := context.Background()

	if err := gate.Authorize(ctx, "secret-b", validMeta()); err != nil {
		t.Fatalf("expected second configured token to pass, got %v", err)
	}
	assertSecurityReason(t, gate.Authorize(ctx, "", validMeta()), core.ReasonTokenMissing, http.StatusUnauthorized)
	assertSecurityReason(t, gate.Authorize(ctx, "secret-c", validMeta()), core.ReasonTokenInvalid, http.StatusUnauthorized)
}

func TestSecurityGate_LenientTokenMode(t *testing.T) {
	cfg := testSecurityConfig()
	cfg.RequireToken = false
	gate := newTestGate(t, cfg)
	ctx := context.Background()

	if err := gate.Authorize(ctx, "", validMeta()); err != nil {
		t.Fatalf("expected missing token to pass in lenient mode, got %v", err)
	}
	assertSecurityReason(t, gate.Authorize(ctx, "wrong", validMeta()), core.ReasonTokenInvalid, http.StatusUnauthorized)
}

func TestNewSecurityGate_RejectsStrictModeWithoutTokens(t *testing.T) {
	cfg := core.DefaultConfig().Security
	if _, err := NewSecurityGate(cfg); err == nil {
		t.Fatalf("expected error for strict mode without tokens")
	}
	cfg.Tokens = []string{"secret"}
	cfg.AllowedIPs = []string{"bogus"}
	if _, err := NewSecurityGate(cfg); err == nil {
		t.Fatalf("expected error for invalid allow-list entry")
	}
}
