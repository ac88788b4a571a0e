package pixwebhooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	pixcommand "github.com/goliatone/go-pix-webhooks/command"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
	pixquery "github.com/goliatone/go-pix-webhooks/query"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

const testToken = "gateway-secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingPayments struct {
	mu       sync.Mutex
	next     core.PaymentRecorder
	failures int
	calls    int
}

func (p *countingPayments) RecordPayment(ctx context.Context, payment core.PaymentRecord) error {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	p.mu.Unlock()
	if fail {
		return errors.New("payments table locked")
	}
	return p.next.RecordPayment(ctx, payment)
}

func (p *countingPayments) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Security.Tokens = []string{testToken}
	cfg.Security.RateLimitPerMinute = 0
	return cfg
}

func newTestRuntime(t *testing.T, clock *testClock, paymentFailures int, opts ...Option) (*Runtime, *countingPayments, *effects.MemoryStore) {
	t.Helper()
	cfg := testConfig()
	backends, memory := MemoryBackends(cfg)
	payments := &countingPayments{next: memory, failures: paymentFailures}
	backends.Capabilities.Payments = payments
	opts = append([]Option{WithBackends(backends), WithClock(clock.Now)}, opts...)
	runtime, err := NewRuntime(cfg, opts...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return runtime, payments, memory
}

func paidRequest(transactionID string, amount string) core.InboundRequest {
	body := []byte(`{"event":"TRANSACTION_PAID","token":"` + testToken + `",` +
		`"transaction":{"id":"` + transactionID + `","status":"COMPLETED","amount":` + amount + `,"paymentMethod":"PIX"},` +
		`"client":{"id":"cli_1","name":"Ana","email":"ana@example.com"}}`)
	return core.InboundRequest{
		TransportMeta: core.TransportMeta{
			Method:        http.MethodPost,
			ContentType:   "application/json",
			ContentLength: int64(len(body)),
			BodySize:      int64(len(body)),
			RemoteIP:      "203.0.113.10",
			UserAgent:     "gateway/1.0",
		},
		Body: body,
	}
}

func process(t *testing.T, facade *Facade, req core.InboundRequest) (webhooks.Outcome, error) {
	t.Helper()
	collector := gocmd.NewResult[webhooks.Outcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := facade.Commands().ProcessWebhook.Execute(ctx, pixcommand.ProcessWebhookMessage{Request: req})
	outcome, _ := collector.Load()
	return outcome, err
}

func TestRuntime_SuccessThenAlreadyProcessed(t *testing.T) {
	clock := newTestClock()
	runtime, payments, memory := newTestRuntime(t, clock, 0)
	facade, err := NewFacade(runtime)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	first, err := process(t, facade, paidRequest("tx_1", "150.00"))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Status != core.StatusSuccess {
		t.Fatalf("expected success, got %q", first.Status)
	}
	second, err := process(t, facade, paidRequest("tx_1", "150.00"))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Status != core.StatusAlreadyProcessed {
		t.Fatalf("expected already_processed, got %q", second.Status)
	}
	if payments.Calls() != 1 {
		t.Fatalf("expected one payment write, got %d", payments.Calls())
	}
	if status := memory.OrderStatus("tx_1"); status != core.OrderStatusPaid {
		t.Fatalf("expected order paid, got %q", status)
	}

	record, err := facade.Queries().GetIdempotencyRecord.Query(context.Background(), pixquery.GetIdempotencyRecordMessage{
		Event:    core.EventTransactionPaid,
		EntityID: "tx_1",
	})
	if err != nil {
		t.Fatalf("query record: %v", err)
	}
	if record.Meta.RequestID != first.RequestID || record.Meta.IP != "203.0.113.10" {
		t.Fatalf("unexpected record meta: %#v", record.Meta)
	}
}

func TestRuntime_NegativeAmountIsValidationError(t *testing.T) {
	runtime, payments, _ := newTestRuntime(t, newTestClock(), 0)
	facade, err := NewFacade(runtime)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	_, err = process(t, facade, paidRequest("tx_neg", "-5"))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if webhooks.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", webhooks.StatusCode(err))
	}
	if payments.Calls() != 0 {
		t.Fatalf("expected no payment writes")
	}
}

func TestRuntime_PersistenceFailureIsRetriedByDrain(t *testing.T) {
	clock := newTestClock()
	runtime, payments, _ := newTestRuntime(t, clock, 1)
	facade, err := NewFacade(runtime)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()

	_, err = process(t, facade, paidRequest("tx_retry", "99.90"))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorProcessing {
		t.Fatalf("expected processing error, got %v", err)
	}
	if webhooks.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", webhooks.StatusCode(err))
	}
	if size, _ := runtime.Queue().Len(ctx); size != 1 {
		t.Fatalf("expected one queued retry, got %d", size)
	}

	clock.Advance(runtime.Config().Retry.Delay())
	collector := gocmd.NewResult[webhooks.DrainStats]()
	if err := facade.Commands().DrainRetries.Execute(gocmd.ContextWithResult(ctx, collector), pixcommand.DrainRetriesMessage{}); err != nil {
		t.Fatalf("drain: %v", err)
	}
	stats, _ := collector.Load()
	if stats.Applied != 1 {
		t.Fatalf("expected drain to apply the retry, got %#v", stats)
	}

	replay, err := process(t, facade, paidRequest("tx_retry", "99.90"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Status != core.StatusAlreadyProcessed {
		t.Fatalf("expected already_processed after drain, got %q", replay.Status)
	}
	if payments.Calls() != 2 {
		t.Fatalf("expected failed call plus drained call, got %d", payments.Calls())
	}
}

func TestRuntime_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	runtime, payments, _ := newTestRuntime(t, newTestClock(), 0)
	coordinator := runtime.Coordinator()

	const deliveries = 20
	var wg sync.WaitGroup
	statuses := make(chan string, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := coordinator.Handle(context.Background(), paidRequest("tx_race", "10.00"))
			if err != nil {
				t.Errorf("handle: %v", err)
				return
			}
			statuses <- outcome.Status
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[string]int{}
	for status := range statuses {
		counts[status]++
	}
	if counts[core.StatusSuccess] != 1 || counts[core.StatusAlreadyProcessed] != deliveries-1 {
		t.Fatalf("unexpected status counts %v", counts)
	}
	if payments.Calls() != 1 {
		t.Fatalf("expected exactly one payment write, got %d", payments.Calls())
	}
}

func TestRuntime_SweepCommandAndStatsQuery(t *testing.T) {
	clock := newTestClock()
	runtime, _, _ := newTestRuntime(t, clock, 0)
	facade, err := NewFacade(runtime)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()
	if _, err := process(t, facade, paidRequest("tx_sweep", "1.00")); err != nil {
		t.Fatalf("process: %v", err)
	}

	clock.Advance(runtime.Config().Idempotency.TTL() + time.Minute)
	collector := gocmd.NewResult[pixcommand.SweepResult]()
	if err := facade.Commands().SweepIdempotency.Execute(gocmd.ContextWithResult(ctx, collector), pixcommand.SweepIdempotencyMessage{}); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result, _ := collector.Load(); result.Removed != 1 {
		t.Fatalf("expected one swept record, got %#v", result)
	}

	stats, err := facade.Queries().Stats.Query(ctx, pixquery.StatsMessage{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Processed != 1 || stats.IdempotencyRecords != 0 || stats.LastSweep == nil {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestNewRuntime_RejectsInvalidConfigAndBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 0
	if _, err := NewRuntime(cfg); err == nil {
		t.Fatalf("expected invalid config error")
	}
	if _, err := NewRuntime(testConfig(), WithBackends(Backends{})); err == nil {
		t.Fatalf("expected missing backend error")
	}
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected facade error without runtime")
	}
}

func TestSetup_AppliesRuntimeOverrides(t *testing.T) {
	runtime, err := Setup(context.Background(), core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: map[string]any{
		"retry": map[string]any{"max_attempts": 5},
	}}), Config{Security: SecurityConfig{Tokens: []string{testToken}}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	cfg := runtime.Config()
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("expected loaded max attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	if len(cfg.Security.Tokens) != 1 || cfg.Security.Tokens[0] != testToken {
		t.Fatalf("expected runtime tokens, got %v", cfg.Security.Tokens)
	}
	if _, err := runtime.RetryRunner(); err != nil {
		t.Fatalf("retry runner: %v", err)
	}
}
