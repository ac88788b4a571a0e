package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func retryEntryHandlers() repository.ModelHandlers[*retryEntryRecord] {
	return repository.ModelHandlers[*retryEntryRecord]{
		NewRecord: func() *retryEntryRecord {
			return &retryEntryRecord{}
		},
		GetID: func(record *retryEntryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *retryEntryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *retryEntryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func paymentHandlers() repository.ModelHandlers[*paymentRecord] {
	return repository.ModelHandlers[*paymentRecord]{
		NewRecord: func() *paymentRecord {
			return &paymentRecord{}
		},
		GetID: func(record *paymentRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *paymentRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "transaction_id"
		},
		GetIdentifierValue: func(record *paymentRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.TransactionID)
		},
	}
}

func auditHandlers() repository.ModelHandlers[*auditRecord] {
	return repository.ModelHandlers[*auditRecord]{
		NewRecord: func() *auditRecord {
			return &auditRecord{}
		},
		GetID: func(record *auditRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *auditRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *auditRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
