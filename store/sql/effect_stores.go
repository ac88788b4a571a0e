package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PaymentStore persists settled payments, one row per transaction.
type PaymentStore struct {
	db   *bun.DB
	repo repository.Repository[*paymentRecord]
	now  func() time.Time
}

func NewPaymentStore(db *bun.DB) (*PaymentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*paymentRecord](db, paymentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payment repository wiring: %w", err)
		}
	}
	return &PaymentStore{db: db, repo: repo, now: time.Now}, nil
}

// RecordPayment inserts the payment or refreshes the row already stored for
// the same transaction, so replays of a PAID event stay single-row.
func (s *PaymentStore) RecordPayment(ctx context.Context, payment core.PaymentRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: payment store is not configured")
	}
	transactionID := strings.TrimSpace(payment.TransactionID)
	if transactionID == "" {
		return fmt.Errorf("sqlstore: payment transaction id is required")
	}
	now := s.now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := &paymentRecord{}
		err := tx.NewSelect().
			Model(current).
			Where("?TableAlias.transaction_id = ?", transactionID).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if errors.Is(err, sql.ErrNoRows) {
			record := newPaymentRecord(payment, now)
			record.ID = uuid.NewString()
			record.CreatedAt = now
			_, createErr := s.repo.CreateTx(ctx, tx, record)
			return createErr
		}
		next := newPaymentRecord(payment, now)
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		_, updateErr := tx.NewUpdate().
			Model(next).
			Where("id = ?", current.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *PaymentStore) Payment(ctx context.Context, transactionID string) (core.PaymentRecord, error) {
	if s == nil || s.repo == nil {
		return core.PaymentRecord{}, fmt.Errorf("sqlstore: payment store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("transaction_id", "=", strings.TrimSpace(transactionID)),
		repository.OrderBy("updated_at DESC"),
	)
	if err != nil {
		return core.PaymentRecord{}, err
	}
	if len(records) == 0 {
		return core.PaymentRecord{}, core.ErrRecordNotFound
	}
	return records[0].toDomain(), nil
}

func newPaymentRecord(payment core.PaymentRecord, now time.Time) *paymentRecord {
	paidAt := payment.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	return &paymentRecord{
		TransactionID: strings.TrimSpace(payment.TransactionID),
		EndToEndID:    payment.EndToEndID,
		Amount:        payment.Amount,
		PaymentMethod: payment.PaymentMethod,
		Status:        payment.Status,
		ClientID:      payment.ClientID,
		ClientName:    payment.ClientName,
		ClientEmail:   payment.ClientEmail,
		PaidAt:        paidAt.UTC(),
		UpdatedAt:     now,
	}
}

func (r *paymentRecord) toDomain() core.PaymentRecord {
	if r == nil {
		return core.PaymentRecord{}
	}
	return core.PaymentRecord{
		TransactionID: r.TransactionID,
		EndToEndID:    r.EndToEndID,
		Amount:        r.Amount,
		PaymentMethod: r.PaymentMethod,
		Status:        r.Status,
		ClientID:      r.ClientID,
		ClientName:    r.ClientName,
		ClientEmail:   r.ClientEmail,
		PaidAt:        r.PaidAt.UTC(),
	}
}

// EntitlementStore grants and revokes access per transaction. Revocation
// keeps the row and stamps revoked_at.
type EntitlementStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewEntitlementStore(db *bun.DB) (*EntitlementStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &EntitlementStore{db: db, now: time.Now}, nil
}

func (s *EntitlementStore) GrantEntitlement(ctx context.Context, entitlement core.Entitlement) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entitlement store is not configured")
	}
	transactionID := strings.TrimSpace(entitlement.TransactionID)
	if transactionID == "" {
		return fmt.Errorf("sqlstore: entitlement transaction id is required")
	}
	grantedAt := entitlement.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = s.now()
	}
	record := &entitlementRecord{
		TransactionID: transactionID,
		ClientID:      entitlement.ClientID,
		ClientEmail:   entitlement.ClientEmail,
		GrantedAt:     grantedAt.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (transaction_id) DO UPDATE").
		Set("client_id = EXCLUDED.client_id").
		Set("client_email = EXCLUDED.client_email").
		Set("granted_at = EXCLUDED.granted_at").
		Set("revoked_at = NULL").
		Exec(ctx)
	return err
}

func (s *EntitlementStore) RevokeEntitlement(ctx context.Context, transactionID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entitlement store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*entitlementRecord)(nil)).
		Set("revoked_at = ?", s.now().UTC()).
		Where("transaction_id = ?", strings.TrimSpace(transactionID)).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

// Entitlement returns the active entitlement for a transaction.
func (s *EntitlementStore) Entitlement(ctx context.Context, transactionID string) (core.Entitlement, error) {
	if s == nil || s.db == nil {
		return core.Entitlement{}, fmt.Errorf("sqlstore: entitlement store is not configured")
	}
	record := &entitlementRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.transaction_id = ?", strings.TrimSpace(transactionID)).
		Where("?TableAlias.revoked_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Entitlement{}, core.ErrRecordNotFound
		}
		return core.Entitlement{}, err
	}
	return core.Entitlement{
		TransactionID: record.TransactionID,
		ClientID:      record.ClientID,
		ClientEmail:   record.ClientEmail,
		GrantedAt:     record.GrantedAt.UTC(),
	}, nil
}

type OrderStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewOrderStore(db *bun.DB) (*OrderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &OrderStore{db: db, now: time.Now}, nil
}

func (s *OrderStore) UpdateOrderStatus(ctx context.Context, transactionID string, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: order store is not configured")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return fmt.Errorf("sqlstore: order transaction id is required")
	}
	status = strings.TrimSpace(status)
	record := &orderRecord{
		TransactionID: transactionID,
		Status:        status,
		UpdatedAt:     s.now().UTC(),
	}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	if inserted, err := res.RowsAffected(); err == nil && inserted > 0 {
		return nil
	}
	// The rank guard runs inside the UPDATE so concurrent flows for the same
	// transaction cannot move the order backwards.
	_, err = s.db.NewUpdate().
		Model(record).
		Set("status = ?", status).
		Set("updated_at = ?", record.UpdatedAt).
		Where("transaction_id = ?", transactionID).
		Where(orderRankSQL+" <= ?", core.OrderStatusRank(status)).
		Exec(ctx)
	return err
}

const orderRankSQL = "CASE status" +
	" WHEN '" + core.OrderStatusPending + "' THEN 1" +
	" WHEN '" + core.OrderStatusPaid + "' THEN 2" +
	" WHEN '" + core.OrderStatusCanceled + "' THEN 3" +
	" WHEN '" + core.OrderStatusRefunded + "' THEN 3" +
	" ELSE 0 END"

func (s *OrderStore) OrderStatus(ctx context.Context, transactionID string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: order store is not configured")
	}
	record := &orderRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.transaction_id = ?", strings.TrimSpace(transactionID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.ErrRecordNotFound
		}
		return "", err
	}
	return record.Status, nil
}

// AuditStore appends one row per effect run, replays included.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{db: db, repo: repo}, nil
}

func (s *AuditStore) WriteAudit(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	record := &auditRecord{
		ID:            uuid.NewString(),
		TransactionID: strings.TrimSpace(entry.TransactionID),
		Event:         string(entry.Event),
		RequestID:     entry.RequestID,
		Attempt:       entry.Attempt,
		Payload:       append([]byte(nil), entry.Payload...),
		RecordedAt:    recordedAt.UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditStore) ListByTransaction(ctx context.Context, transactionID string) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("transaction_id", "=", strings.TrimSpace(transactionID)),
		repository.OrderBy("recorded_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		out = append(out, core.AuditEntry{
			TransactionID: record.TransactionID,
			Event:         core.EventType(record.Event),
			RequestID:     record.RequestID,
			Attempt:       record.Attempt,
			Payload:       append([]byte(nil), record.Payload...),
			RecordedAt:    record.RecordedAt.UTC(),
		})
	}
	return out, nil
}
