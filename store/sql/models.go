package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type idempotencyRecord struct {
	bun.BaseModel `bun:"table:pix_idempotency_records,alias:pir"`

	Key         string    `bun:"key,pk"`
	Event       string    `bun:"event,notnull"`
	ProcessedAt time.Time `bun:"processed_at,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
	IP          string    `bun:"ip,notnull"`
	UserAgent   string    `bun:"user_agent,notnull"`
	RequestID   string    `bun:"request_id,notnull"`
}

type retryEntryRecord struct {
	bun.BaseModel `bun:"table:pix_retry_entries,alias:pre"`

	ID          string    `bun:"id,pk"`
	Key         string    `bun:"key,notnull"`
	Payload     []byte    `bun:"payload,notnull"`
	Attempt     int       `bun:"attempt,notnull"`
	ScheduledAt time.Time `bun:"scheduled_at,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:pix_payments,alias:pp"`

	ID            string    `bun:"id,pk"`
	TransactionID string    `bun:"transaction_id,notnull"`
	EndToEndID    string    `bun:"end_to_end_id,notnull"`
	Amount        string    `bun:"amount,notnull"`
	PaymentMethod string    `bun:"payment_method,notnull"`
	Status        string    `bun:"status,notnull"`
	ClientID      string    `bun:"client_id,notnull"`
	ClientName    string    `bun:"client_name,notnull"`
	ClientEmail   string    `bun:"client_email,notnull"`
	PaidAt        time.Time `bun:"paid_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type entitlementRecord struct {
	bun.BaseModel `bun:"table:pix_entitlements,alias:pe"`

	TransactionID string     `bun:"transaction_id,pk"`
	ClientID      string     `bun:"client_id,notnull"`
	ClientEmail   string     `bun:"client_email,notnull"`
	GrantedAt     time.Time  `bun:"granted_at,notnull"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero"`
}

type orderRecord struct {
	bun.BaseModel `bun:"table:pix_orders,alias:po"`

	TransactionID string    `bun:"transaction_id,pk"`
	Status        string    `bun:"status,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

type auditRecord struct {
	bun.BaseModel `bun:"table:pix_audit_entries,alias:pae"`

	ID            string    `bun:"id,pk"`
	TransactionID string    `bun:"transaction_id,notnull"`
	Event         string    `bun:"event,notnull"`
	RequestID     string    `bun:"request_id,notnull"`
	Attempt       int       `bun:"attempt,notnull"`
	Payload       []byte    `bun:"payload,notnull"`
	RecordedAt    time.Time `bun:"recorded_at,notnull"`
}
