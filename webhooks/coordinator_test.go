package webhooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
	"github.com/goliatone/go-pix-webhooks/effects"
	"github.com/goliatone/go-pix-webhooks/idempotency"
	"github.com/goliatone/go-pix-webhooks/inbound"
	"github.com/goliatone/go-pix-webhooks/retry"
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

// flakyPayments fails the first failures calls and counts every call. onCall
// runs before each call.
type flakyPayments struct {
	mu       sync.Mutex
	store    *effects.MemoryStore
	failures int
	calls    int
	onCall   func()
}

func (p *flakyPayments) RecordPayment(ctx context.Context, payment core.PaymentRecord) error {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	onCall := p.onCall
	p.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if fail {
		return errors.New("payments table locked")
	}
	return p.store.RecordPayment(ctx, payment)
}

func (p *flakyPayments) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	clock       *testClock
	coordinator *Coordinator
	store       *idempotency.Store
	queue       *retry.Queue
	effects     *effects.MemoryStore
	payments    *flakyPayments
}

func newHarness(t *testing.T, paymentFailures int, mutate func(*core.Config)) *harness {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Security.Tokens = []string{testToken}
	cfg.Security.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()

	gate, err := inbound.NewSecurityGate(cfg.Security, inbound.WithGateClock(clock.Now))
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	store, err := idempotency.NewStore(idempotency.NewMemoryLedger(cfg.Idempotency.MaxCacheEntries), cfg.Idempotency, idempotency.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	queue, err := retry.NewQueue(retry.NewMemoryBackend(), cfg.Retry, retry.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	memory := effects.NewMemoryStore()
	payments := &flakyPayments{store: memory, failures: paymentFailures}
	caps := memory.Capabilities()
	caps.Payments = payments
	processor, err := effects.NewProcessor(cfg.Effects, caps, effects.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	coordinator, err := NewCoordinator(gate, inbound.NewEventValidator(), store, queue, processor,
		WithClock(clock.Now),
		WithDrainOnRequest(cfg.Retry.DrainOnRequest),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return &harness{clock: clock, coordinator: coordinator, store: store, queue: queue, effects: memory, payments: payments}
}

func paidBody(amount string, token string) []byte {
	return []byte(`{
		"event": "TRANSACTION_PAID",
		"token": "` + token + `",
		"transaction": {
			"id": "tx_100",
			"status": "COMPLETED",
			"amount": ` + amount + `,
			"paymentMethod": "PIX",
			"pixInformation": {"endToEndId": "E2E100"}
		},
		"client": {"id": "cli_1", "name": "Ana", "email": "ana@example.com"}
	}`)
}

func inboundRequest(body []byte) core.InboundRequest {
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

func textCode(t *testing.T, err error) string {
	t.Helper()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %v", err)
	}
	return rich.TextCode
}

func TestCoordinator_SuccessThenAlreadyProcessed(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	first, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Status != core.StatusSuccess || first.TransactionID != "tx_100" {
		t.Fatalf("unexpected first outcome %#v", first)
	}
	if first.RequestID == "" || first.RequestID[:4] != "req_" {
		t.Fatalf("expected generated request id, got %q", first.RequestID)
	}

	h.clock.Advance(time.Minute)
	second, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Status != core.StatusAlreadyProcessed {
		t.Fatalf("expected already_processed, got %q", second.Status)
	}
	if second.OriginalProcessedAt == nil || !second.OriginalProcessedAt.Equal(h.clock.Now().Add(-time.Minute)) {
		t.Fatalf("expected original processed at, got %v", second.OriginalProcessedAt)
	}
	if calls := h.payments.Calls(); calls != 1 {
		t.Fatalf("expected payment recorded once, got %d", calls)
	}

	stats, err := h.coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Processed != 1 || stats.Duplicates != 1 || stats.Committed != 1 || stats.IdempotencyRecords != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestCoordinator_NegativeAmountIsValidationError(t *testing.T) {
	h := newHarness(t, 0, nil)
	_, err := h.coordinator.Handle(context.Background(), inboundRequest(paidBody("-5", testToken)))
	if textCode(t, err) != core.ErrorValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", StatusCode(err))
	}
	if count, _ := h.store.Count(context.Background()); count != 0 {
		t.Fatalf("expected nothing committed, got %d", count)
	}
}

func TestCoordinator_FailureRetriesThenAlreadyProcessed(t *testing.T) {
	h := newHarness(t, 1, nil)
	ctx := context.Background()

	_, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if textCode(t, err) != core.ErrorProcessing {
		t.Fatalf("expected PROCESSING_ERROR, got %v", err)
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", StatusCode(err))
	}
	if size, _ := h.queue.Len(ctx); size != 1 {
		t.Fatalf("expected one queued retry, got %d", size)
	}

	early, err := h.coordinator.DrainRetries(ctx)
	if err != nil || early.Drained != 0 {
		t.Fatalf("expected nothing due before backoff, got %#v %v", early, err)
	}

	h.clock.Advance(5 * time.Second)
	drained, err := h.coordinator.DrainRetries(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Drained != 1 || drained.Applied != 1 {
		t.Fatalf("unexpected drain stats %#v", drained)
	}
	if status := h.effects.OrderStatus("tx_100"); status != core.OrderStatusPaid {
		t.Fatalf("expected order paid after retry, got %q", status)
	}

	again, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.Status != core.StatusAlreadyProcessed {
		t.Fatalf("expected already_processed after retry, got %q", again.Status)
	}
}

func TestCoordinator_RetriesAreBounded(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err == nil {
		t.Fatalf("expected processing error")
	}
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Minute)
		if _, err := h.coordinator.DrainRetries(ctx); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}
	stats, err := h.coordinator.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.RetriesScheduled != 3 {
		t.Fatalf("expected exactly 3 schedules, got %d", stats.RetriesScheduled)
	}
	if stats.RetriesDropped != 1 || stats.RetryQueueSize != 0 {
		t.Fatalf("expected terminal drop and empty queue, got %#v", stats)
	}
	if calls := h.payments.Calls(); calls != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, got %d", calls)
	}
	if count, _ := h.store.Count(ctx); count != 0 {
		t.Fatalf("expected failed event to stay uncommitted, got %d", count)
	}
}

func TestCoordinator_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()
	const deliveries = 25

	var wg sync.WaitGroup
	statuses := make(chan string, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
			if err != nil {
				t.Errorf("delivery: %v", err)
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
		t.Fatalf("unexpected outcome distribution %#v", counts)
	}
	if calls := h.payments.Calls(); calls != 1 {
		t.Fatalf("expected a single effect application, got %d", calls)
	}
}

func TestCoordinator_SecurityRejections(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	_, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", "")))
	if textCode(t, err) != core.ErrorSecurity || StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 SECURITY_ERROR, got %v", err)
	}
	status, body := NewErrorResponse(err, "req_x")
	if status != http.StatusUnauthorized || body.Reason != core.ReasonTokenMissing || body.Message != "security error" {
		t.Fatalf("unexpected error response %d %#v", status, body)
	}

	req := inboundRequest(paidBody("150.00", ""))
	req.Headers = map[string]string{"x-webhook-token": testToken}
	if _, err := h.coordinator.Handle(ctx, req); err != nil {
		t.Fatalf("expected header token to authorize, got %v", err)
	}

	req = inboundRequest(paidBody("150.00", testToken))
	req.Method = http.MethodGet
	_, err = h.coordinator.Handle(ctx, req)
	if textCode(t, err) != core.ErrorSecurity {
		t.Fatalf("expected method rejection, got %v", err)
	}
	stats, _ := h.coordinator.Stats(ctx)
	if stats.Rejected != 2 {
		t.Fatalf("expected 2 rejections, got %d", stats.Rejected)
	}
}

func TestCoordinator_IgnoredPaidIsNotCommitted(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()
	body := []byte(`{
		"event": "TRANSACTION_PAID",
		"token": "` + testToken + `",
		"transaction": {"id": "tx_card", "status": "COMPLETED", "amount": 10, "paymentMethod": "CARD"},
		"client": {"id": "cli_1", "name": "Ana", "email": "ana@example.com"}
	}`)

	for i := 0; i < 2; i++ {
		outcome, err := h.coordinator.Handle(ctx, inboundRequest(body))
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if outcome.Status != core.StatusIgnored {
			t.Fatalf("delivery %d: expected ignored, got %q", i, outcome.Status)
		}
	}
	if count, _ := h.store.Count(ctx); count != 0 {
		t.Fatalf("expected ignored events to stay uncommitted, got %d", count)
	}
	if response := NewResponse(Outcome{Status: core.StatusIgnored, Result: core.EffectResult{Message: "not pix"}}); response.Message != "not pix" {
		t.Fatalf("expected ignore reason in response, got %#v", response)
	}
}

func TestCoordinator_CreatedAndPaidAreTrackedSeparately(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()
	created := []byte(`{
		"event": "TRANSACTION_CREATED",
		"token": "` + testToken + `",
		"transaction": {"id": "tx_100", "status": "PENDING", "amount": 150},
		"client": {"id": "cli_1", "name": "Ana", "email": "ana@example.com"}
	}`)
	outcome, err := h.coordinator.Handle(ctx, inboundRequest(created))
	if err != nil || outcome.Status != core.StatusCreated {
		t.Fatalf("expected created, got %#v %v", outcome, err)
	}
	outcome, err = h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil || outcome.Status != core.StatusSuccess {
		t.Fatalf("expected paid to apply after created, got %#v %v", outcome, err)
	}
}

func TestCoordinator_LateCreatedKeepsPaidOrder(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil || outcome.Status != core.StatusSuccess {
		t.Fatalf("expected paid to apply, got %#v %v", outcome, err)
	}
	created := []byte(`{
		"event": "TRANSACTION_CREATED",
		"token": "` + testToken + `",
		"transaction": {"id": "tx_100", "status": "PENDING", "amount": 150},
		"client": {"id": "cli_1", "name": "Ana", "email": "ana@example.com"}
	}`)
	outcome, err = h.coordinator.Handle(ctx, inboundRequest(created))
	if err != nil || outcome.Status != core.StatusCreated {
		t.Fatalf("expected late created to be acknowledged, got %#v %v", outcome, err)
	}
	if status := h.effects.OrderStatus("tx_100"); status != core.OrderStatusPaid {
		t.Fatalf("expected order to stay paid after a late created, got %q", status)
	}
	if _, ok := h.effects.Entitlement("tx_100"); !ok {
		t.Fatalf("expected entitlement to survive a late created")
	}
}

func TestCoordinator_CanceledRequestStillCommits(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.payments.onCall = cancel

	outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil || outcome.Status != core.StatusSuccess {
		t.Fatalf("expected flow to finish after cancellation, got %#v %v", outcome, err)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected request context to be canceled mid-flow")
	}
	if status := h.effects.OrderStatus("tx_100"); status != core.OrderStatusPaid {
		t.Fatalf("expected remaining steps to run, got order %q", status)
	}
	_, processed, err := h.store.IsProcessed(context.Background(), core.IdempotencyKey(core.EventTransactionPaid, "tx_100"))
	if err != nil || !processed {
		t.Fatalf("expected commit despite cancellation, got %v %v", processed, err)
	}
}

func TestCoordinator_CanceledRequestStillSchedulesRetry(t *testing.T) {
	h := newHarness(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.payments.onCall = cancel

	_, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if textCode(t, err) != core.ErrorProcessing {
		t.Fatalf("expected PROCESSING_ERROR, got %v", err)
	}
	if size, _ := h.queue.Len(context.Background()); size != 1 {
		t.Fatalf("expected retry scheduled after cancellation, got %d", size)
	}
}

func TestCoordinator_ExpiredRecordIsProcessedAgain(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()
	key := core.IdempotencyKey(core.EventTransactionPaid, "tx_100")

	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first, _, err := h.store.IsProcessed(ctx, key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil || outcome.Status != core.StatusSuccess {
		t.Fatalf("expected expired key to be processed again, got %#v %v", outcome, err)
	}
	if calls := h.payments.Calls(); calls != 2 {
		t.Fatalf("expected effects to run again, got %d payment calls", calls)
	}
	second, processed, err := h.store.IsProcessed(ctx, key)
	if err != nil || !processed {
		t.Fatalf("expected new record, got %v %v", processed, err)
	}
	if !second.ProcessedAt.After(first.ProcessedAt) {
		t.Fatalf("expected later processed_at, got %v then %v", first.ProcessedAt, second.ProcessedAt)
	}
}

func TestCoordinator_HeaderTokenIsCheckedBeforeBody(t *testing.T) {
	h := newHarness(t, 0, nil)
	ctx := context.Background()

	req := inboundRequest([]byte(`{"event": `))
	req.Headers = map[string]string{HeaderToken: "wrong"}
	_, err := h.coordinator.Handle(ctx, req)
	if textCode(t, err) != core.ErrorSecurity || StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad header token and unreadable body, got %v", err)
	}

	req.Headers = map[string]string{HeaderToken: testToken}
	_, err = h.coordinator.Handle(ctx, req)
	if textCode(t, err) != core.ErrorValidation {
		t.Fatalf("expected 400 once the header token is valid, got %v", err)
	}

	req = inboundRequest(paidBody("150.00", "wrong"))
	req.Headers = map[string]string{HeaderToken: testToken}
	_, err = h.coordinator.Handle(ctx, req)
	if textCode(t, err) != core.ErrorSecurity {
		t.Fatalf("expected a conflicting body token to be rejected, got %v", err)
	}
}

func TestCoordinator_RejectedRequestDoesNotDrain(t *testing.T) {
	h := newHarness(t, 1, func(cfg *core.Config) { cfg.Retry.DrainOnRequest = true })
	ctx := context.Background()

	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err == nil {
		t.Fatalf("expected processing error")
	}
	h.clock.Advance(10 * time.Second)
	req := inboundRequest(paidBody("150.00", testToken))
	req.Method = http.MethodGet
	if _, err := h.coordinator.Handle(ctx, req); textCode(t, err) != core.ErrorSecurity {
		t.Fatalf("expected method rejection, got %v", err)
	}
	if size, _ := h.queue.Len(ctx); size != 1 {
		t.Fatalf("expected retry to stay queued after a rejected request, got %d", size)
	}
	if calls := h.payments.Calls(); calls != 1 {
		t.Fatalf("expected no replay from a rejected request, got %d", calls)
	}
}

func TestCoordinator_DrainSkipsProcessedKeys(t *testing.T) {
	h := newHarness(t, 1, nil)
	ctx := context.Background()

	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err == nil {
		t.Fatalf("expected processing error")
	}
	outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil || outcome.Status != core.StatusSuccess {
		t.Fatalf("expected gateway redelivery to succeed, got %#v %v", outcome, err)
	}
	h.clock.Advance(time.Minute)
	drained, err := h.coordinator.DrainRetries(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if drained.Skipped != 1 || drained.Applied != 0 {
		t.Fatalf("expected queued retry to be skipped, got %#v", drained)
	}
	if calls := h.payments.Calls(); calls != 2 {
		t.Fatalf("expected no extra application from drain, got %d", calls)
	}
}

func TestCoordinator_DrainOnRequest(t *testing.T) {
	h := newHarness(t, 1, func(cfg *core.Config) { cfg.Retry.DrainOnRequest = true })
	ctx := context.Background()

	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err == nil {
		t.Fatalf("expected processing error")
	}
	h.clock.Advance(10 * time.Second)
	outcome, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken)))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome.Status != core.StatusAlreadyProcessed {
		t.Fatalf("expected request-time drain to apply the retry first, got %q", outcome.Status)
	}
}

func TestCoordinator_UsesInboundRequestIDHeader(t *testing.T) {
	h := newHarness(t, 0, nil)
	req := inboundRequest(paidBody("150.00", testToken))
	req.Headers = map[string]string{HeaderRequestID: "req_from_gateway"}
	outcome, err := h.coordinator.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.RequestID != "req_from_gateway" {
		t.Fatalf("expected inbound request id, got %q", outcome.RequestID)
	}
	record, processed, err := h.store.IsProcessed(context.Background(), core.IdempotencyKey(core.EventTransactionPaid, "tx_100"))
	if err != nil || !processed || record.Meta.RequestID != "req_from_gateway" || record.Meta.IP != "203.0.113.10" {
		t.Fatalf("expected request meta on record, got %#v %v %v", record, processed, err)
	}
}

func TestRetryRunner_TickDrains(t *testing.T) {
	h := newHarness(t, 1, nil)
	ctx := context.Background()
	if _, err := h.coordinator.Handle(ctx, inboundRequest(paidBody("150.00", testToken))); err == nil {
		t.Fatalf("expected processing error")
	}
	runner, err := NewRetryRunner(h.coordinator, time.Second, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	h.clock.Advance(5 * time.Second)
	runner.Tick(ctx)
	if status := h.effects.OrderStatus("tx_100"); status != core.OrderStatusPaid {
		t.Fatalf("expected tick to apply the retry, got %q", status)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := runner.Run(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected run to stop on cancel, got %v", err)
	}
}
