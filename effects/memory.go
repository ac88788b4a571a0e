package effects

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-pix-webhooks/core"
)

// MemoryStore is an in-process implementation of the persistence
// capabilities. Writes are upserts keyed by transaction id.
type MemoryStore struct {
	mu           sync.Mutex
	payments     map[string]core.PaymentRecord
	entitlements map[string]core.Entitlement
	orders       map[string]string
	audit        []core.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     map[string]core.PaymentRecord{},
		entitlements: map[string]core.Entitlement{},
		orders:       map[string]string{},
	}
}

func (s *MemoryStore) RecordPayment(_ context.Context, payment core.PaymentRecord) error {
	id := strings.TrimSpace(payment.TransactionID)
	if id == "" {
		return fmt.Errorf("effects: payment transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[id] = payment
	return nil
}

func (s *MemoryStore) GrantEntitlement(_ context.Context, entitlement core.Entitlement) error {
	id := strings.TrimSpace(entitlement.TransactionID)
	if id == "" {
		return fmt.Errorf("effects: entitlement transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entitlements[id] = entitlement
	return nil
}

func (s *MemoryStore) RevokeEntitlement(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entitlements, strings.TrimSpace(transactionID))
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, transactionID string, status string) error {
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return fmt.Errorf("effects: order transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.orders[id]; ok && !core.OrderStatusAdvances(current, status) {
		return nil
	}
	s.orders[id] = status
	return nil
}

func (s *MemoryStore) WriteAudit(_ context.Context, entry core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) Payment(transactionID string) (core.PaymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[transactionID]
	return payment, ok
}

func (s *MemoryStore) Entitlement(transactionID string) (core.Entitlement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entitlement, ok := s.entitlements[transactionID]
	return entitlement, ok
}

func (s *MemoryStore) OrderStatus(transactionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[transactionID]
}

func (s *MemoryStore) AuditEntries() []core.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AuditEntry(nil), s.audit...)
}

// Capabilities wires the store into every persistence capability.
func (s *MemoryStore) Capabilities() Capabilities {
	return Capabilities{
		Payments:     s,
		Entitlements: s,
		Orders:       s,
		Audit:        s,
	}
}

var (
	_ core.PaymentRecorder    = (*MemoryStore)(nil)
	_ core.EntitlementStore   = (*MemoryStore)(nil)
	_ core.OrderStatusUpdater = (*MemoryStore)(nil)
	_ core.AuditWriter        = (*MemoryStore)(nil)
)
