package effects

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-pix-webhooks/core"
)

// EffectContext is what a capability sees for one step.
type EffectContext struct {
	Envelope core.Envelope
	Run      core.EffectRun
	Now      time.Time
}

func (c EffectContext) TransactionID() string {
	return c.Envelope.EntityID()
}

// Capability is a single downstream side effect.
type Capability interface {
	Apply(ctx context.Context, ec EffectContext) error
}

type CapabilityFunc func(ctx context.Context, ec EffectContext) error

func (f CapabilityFunc) Apply(ctx context.Context, ec EffectContext) error {
	if f == nil {
		return fmt.Errorf("effects: capability func is nil")
	}
	return f(ctx, ec)
}

// PersistPayment stores the settled payment.
func PersistPayment(recorder core.PaymentRecorder) Capability {
	if recorder == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return recorder.RecordPayment(ctx, paymentFromContext(ec))
	})
}

func SendConfirmation(sender core.ConfirmationSender) Capability {
	if sender == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return sender.SendConfirmation(ctx, noticeFromContext(ec))
	})
}

func GrantEntitlement(store core.EntitlementStore) Capability {
	if store == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		entitlement := core.Entitlement{
			TransactionID: ec.TransactionID(),
			GrantedAt:     ec.Now,
		}
		if client := ec.Envelope.Client; client != nil {
			entitlement.ClientID = client.ID.String()
			entitlement.ClientEmail = client.Email
		}
		return store.GrantEntitlement(ctx, entitlement)
	})
}

func RevokeEntitlement(store core.EntitlementStore) Capability {
	if store == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return store.RevokeEntitlement(ctx, ec.TransactionID())
	})
}

func UpdateOrderStatus(updater core.OrderStatusUpdater, status string) Capability {
	if updater == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return updater.UpdateOrderStatus(ctx, ec.TransactionID(), status)
	})
}

func NotifyInternal(notifier core.InternalNotifier) Capability {
	if notifier == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return notifier.NotifyInternal(ctx, noticeFromContext(ec))
	})
}

func WriteAudit(writer core.AuditWriter) Capability {
	if writer == nil {
		return nil
	}
	return CapabilityFunc(func(ctx context.Context, ec EffectContext) error {
		return writer.WriteAudit(ctx, core.AuditEntry{
			TransactionID: ec.TransactionID(),
			Event:         ec.Envelope.Event,
			RequestID:     ec.Run.RequestID,
			Attempt:       ec.Run.Attempt,
			Payload:       append([]byte(nil), ec.Run.Payload...),
			RecordedAt:    ec.Now,
		})
	})
}

func paymentFromContext(ec EffectContext) core.PaymentRecord {
	payment := core.PaymentRecord{
		TransactionID: ec.TransactionID(),
		PaidAt:        ec.Now,
	}
	if tx := ec.Envelope.Transaction; tx != nil {
		payment.Amount = tx.Amount.String()
		payment.PaymentMethod = tx.PaymentMethod
		payment.Status = tx.Status
		if tx.PixInformation != nil {
			payment.EndToEndID = tx.PixInformation.EndToEndID
		}
	}
	if client := ec.Envelope.Client; client != nil {
		payment.ClientID = client.ID.String()
		payment.ClientName = client.Name
		payment.ClientEmail = client.Email
	}
	return payment
}

func noticeFromContext(ec EffectContext) core.Notice {
	notice := core.Notice{
		TransactionID: ec.TransactionID(),
		Event:         ec.Envelope.Event,
		RequestID:     ec.Run.RequestID,
		OccurredAt:    ec.Now,
	}
	if tx := ec.Envelope.Transaction; tx != nil {
		notice.Amount = tx.Amount.String()
	}
	if client := ec.Envelope.Client; client != nil {
		notice.ClientEmail = client.Email
	}
	return notice
}
