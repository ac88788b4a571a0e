package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/inbound"
	"github.com/goliatone/go-pix-webhooks/retry"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

const testToken = "gateway-secret"

var fixedNow = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T, mutate func(*core.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := core.DefaultConfig()
	cfg.Security.Tokens = []string{testToken}
	cfg.Security.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(&cfg)
	}
	now := func() time.Time { return fixedNow }

	gate, err := inbound.NewSecurityGate(cfg.Security, inbound.WithGateClock(now))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	store, err := idempotency.NewStore(idempotency.NewMemoryLedger(cfg.Idempotency.MaxCacheEntries), cfg.Idempotency, idempotency.WithClock(now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	queue, err := retry.NewQueue(retry.NewMemoryBackend(), cfg.Retry, retry.WithClock(now))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	processor, err := effects.NewProcessor(cfg.Effects, effects.NewMemoryStore().Capabilities(), effects.WithClock(now))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	coordinator, err := webhooks.NewCoordinator(gate, inbound.NewEventValidator(), store, queue, processor, webhooks.WithClock(now))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	handler, err := NewHandler(coordinator, WithMaxBodyBytes(cfg.Security.MaxRequestBytes), WithClock(now))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return NewRouter(handler)
}

func paidBody(amount string) string {
	return `{
		"event": "TRANSACTION_PAID",
		"token": "` + testToken + `",
		"transaction": {"id": "tx_http", "status": "COMPLETED", "amount": ` + amount + `, "paymentMethod": "PIX"},
		"client": {"id": "cli_1", "name": "Ana", "email": "ana@example.com"}
	}`
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.10:4321"
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestWebhook_SuccessThenAlreadyProcessed(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := doRequest(router, http.MethodPost, PathWebhook, paidBody("150.00"), map[string]string{webhooks.HeaderRequestID: "req_gateway_1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != core.StatusSuccess || body["transaction_id"] != "tx_http" || body["request_id"] != "req_gateway_1" {
		t.Fatalf("unexpected body %v", body)
	}
	if rec.Header().Get(webhooks.HeaderRequestID) != "req_gateway_1" {
		t.Fatalf("expected request id header echoed")
	}

	rec = doRequest(router, http.MethodPost, PathWebhook, paidBody("150.00"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	body = decode(t, rec)
	if body["status"] != core.StatusAlreadyProcessed || body["original_processed_at"] == nil {
		t.Fatalf("unexpected replay body %v", body)
	}
}

func TestWebhook_RejectsNonPostWithSecurityError(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := doRequest(router, http.MethodGet, PathWebhook, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error_code"] != core.ErrorSecurity || body["reason"] != core.ReasonMethodNotAllowed {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWebhook_NegativeAmountIsBadRequest(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := doRequest(router, http.MethodPost, PathWebhook, paidBody("-5"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "error" || body["error_code"] != core.ErrorValidation {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWebhook_OversizedBodyIsRejected(t *testing.T) {
	router := newTestRouter(t, func(cfg *core.Config) {
		cfg.Security.MaxRequestBytes = 64
	})
	req := httptest.NewRequest(http.MethodPost, PathWebhook, bytes.NewReader([]byte(paidBody("1.00"))))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body["reason"] != core.ReasonPayloadTooLarge {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestStatsAndHealth(t *testing.T) {
	router := newTestRouter(t, nil)
	doRequest(router, http.MethodPost, PathWebhook, paidBody("10.00"), nil)

	rec := doRequest(router, http.MethodGet, PathStats, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats := decode(t, rec)
	if stats["processed"] != float64(1) || stats["idempotency_records"] != float64(1) {
		t.Fatalf("unexpected stats %v", stats)
	}

	rec = doRequest(router, http.MethodGet, PathHealth, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "ok" || body["time"] != "2026-02-13T12:00:00Z" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestStats_FailureIsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, err := NewHandler(failingCoordinator{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	rec := doRequest(NewRouter(handler), http.MethodGet, PathStats, "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error_code"] != core.ErrorInternal {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.Contains(rec.Body.String(), "ledger offline") {
		t.Fatalf("internal details leaked: %s", rec.Body.String())
	}
}

func TestNewHandler_RequiresCoordinator(t *testing.T) {
	if _, err := NewHandler(nil); err == nil {
		t.Fatalf("expected error without coordinator")
	}
}

type failingCoordinator struct{}

func (failingCoordinator) Handle(context.Context, core.InboundRequest) (webhooks.Outcome, error) {
	return webhooks.Outcome{}, errors.New("ledger offline")
}

func (failingCoordinator) Stats(context.Context) (webhooks.Stats, error) {
	return webhooks.Stats{}, errors.New("ledger offline")
}
