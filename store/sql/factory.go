package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-pix-webhooks/effects"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every SQL-backed store over one bun database.
type RepositoryFactory struct {
	db *bun.DB

	idempotencyLedger *IdempotencyLedger
	retryBackend      *RetryBackend
	paymentStore      *PaymentStore
	entitlementStore  *EntitlementStore
	orderStore        *OrderStore
	auditStore        *AuditStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.idempotencyLedger != nil && f.retryBackend != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) IdempotencyLedger() *IdempotencyLedger {
	if f == nil {
		return nil
	}
	return f.idempotencyLedger
}

func (f *RepositoryFactory) RetryBackend() *RetryBackend {
	if f == nil {
		return nil
	}
	return f.retryBackend
}

func (f *RepositoryFactory) PaymentStore() *PaymentStore {
	if f == nil {
		return nil
	}
	return f.paymentStore
}

func (f *RepositoryFactory) EntitlementStore() *EntitlementStore {
	if f == nil {
		return nil
	}
	return f.entitlementStore
}

func (f *RepositoryFactory) OrderStore() *OrderStore {
	if f == nil {
		return nil
	}
	return f.orderStore
}

func (f *RepositoryFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

// Capabilities wires the SQL stores into the persistence capabilities of the
// effect processor. Senders and notifiers are left to the caller.
func (f *RepositoryFactory) Capabilities() effects.Capabilities {
	if f == nil {
		return effects.Capabilities{}
	}
	return effects.Capabilities{
		Payments:     f.paymentStore,
		Entitlements: f.entitlementStore,
		Orders:       f.orderStore,
		Audit:        f.auditStore,
	}
}

func (f *RepositoryFactory) initStores() error {
	idempotencyLedger, err := NewIdempotencyLedger(f.db)
	if err != nil {
		return err
	}
	f.idempotencyLedger = idempotencyLedger
	retryBackend, err := NewRetryBackend(f.db)
	if err != nil {
		return err
	}
	f.retryBackend = retryBackend
	paymentStore, err := NewPaymentStore(f.db)
	if err != nil {
		return err
	}
	f.paymentStore = paymentStore
	entitlementStore, err := NewEntitlementStore(f.db)
	if err != nil {
		return err
	}
	f.entitlementStore = entitlementStore
	orderStore, err := NewOrderStore(f.db)
	if err != nil {
		return err
	}
	f.orderStore = orderStore
	auditStore, err := NewAuditStore(f.db)
	if err != nil {
		return err
	}
	f.auditStore = auditStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
