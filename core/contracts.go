package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TransportMeta is what the HTTP layer knows about an inbound delivery before
// the body is parsed.
type TransportMeta struct {
	Method        string
	ContentType   string
	ContentLength int64
	BodySize      int64
	RemoteIP      string
	UserAgent     string
	RequestID     string
	Headers       map[string]string
}

type InboundRequest struct {
	TransportMeta
	Body       []byte
	ReceivedAt time.Time
}

func (r InboundRequest) Meta() RequestMeta {
	return RequestMeta{
		IP:        r.RemoteIP,
		UserAgent: r.UserAgent,
		RequestID: r.RequestID,
	}
}

// IdempotencyLedger is the durable backend behind the idempotency store.
// Get returns ErrRecordNotFound when the key is absent.
type IdempotencyLedger interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	Put(ctx context.Context, record IdempotencyRecord) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

// KeyLocker serializes work on one idempotency key. The returned release
// function must be called exactly once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// RetryBackend persists retry entries. PopDue removes and returns due entries
// in one atomic step; limit <= 0 means no limit.
type RetryBackend interface {
	Push(ctx context.Context, entry RetryEntry) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]RetryEntry, error)
	Len(ctx context.Context) (int, error)
}

type IdempotencyStore interface {
	Lock(ctx context.Context, key string) (func(), error)
	IsProcessed(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Commit(ctx context.Context, key string, event EventType, meta RequestMeta) (IdempotencyRecord, error)
	Sweep(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

type RetryQueue interface {
	Schedule(ctx context.Context, key string, payload []byte, attempt int) (bool, error)
	DrainDue(ctx context.Context, now time.Time) ([]RetryEntry, error)
	Len(ctx context.Context) (int, error)
}

type EffectApplier interface {
	Apply(ctx context.Context, envelope Envelope, run EffectRun) (EffectResult, error)
}

// EffectRun carries per-delivery context into the effect flows.
type EffectRun struct {
	RequestID string
	Attempt   int
	Payload   []byte
}

// Capability collaborators: persistence, notification and entitlement backends.

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, payment PaymentRecord) error
}

type EntitlementStore interface {
	GrantEntitlement(ctx context.Context, entitlement Entitlement) error
	RevokeEntitlement(ctx context.Context, transactionID string) error
}

type OrderStatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, transactionID string, status string) error
}

type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, notice Notice) error
}

type InternalNotifier interface {
	NotifyInternal(ctx context.Context, notice Notice) error
}

type AuditWriter interface {
	WriteAudit(ctx context.Context, entry AuditEntry) error
}
