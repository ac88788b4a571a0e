package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventTransactionCreated  EventType = "TRANSACTION_CREATED"
	EventTransactionPaid     EventType = "TRANSACTION_PAID"
	EventTransactionCanceled EventType = "TRANSACTION_CANCELED"
	EventTransactionRefunded EventType = "TRANSACTION_REFUNDED"
	EventTransferCreated     EventType = "TRANSFER_CREATED"
	EventTransferCompleted   EventType = "TRANSFER_COMPLETED"
	EventTransferFailed      EventType = "TRANSFER_FAILED"
)

const (
	eventPrefixTransaction = "TRANSACTION_"
	eventPrefixTransfer    = "TRANSFER_"
)

// KnownEvents lists every event tag the gateway is allowed to send.
func KnownEvents() []EventType {
	return []EventType{
		EventTransactionCreated,
		EventTransactionPaid,
		EventTransactionCanceled,
		EventTransactionRefunded,
		EventTransferCreated,
		EventTransferCompleted,
		EventTransferFailed,
	}
}

func (e EventType) Known() bool {
	for _, known := range KnownEvents() {
		if e == known {
			return true
		}
	}
	return false
}

func (e EventType) IsTransaction() bool {
	return strings.HasPrefix(string(e), eventPrefixTransaction)
}

func (e EventType) IsTransfer() bool {
	return strings.HasPrefix(string(e), eventPrefixTransfer)
}

func (e EventType) String() string {
	return string(e)
}

// Outcome statuses reported to the gateway on HTTP 200.
const (
	StatusSuccess          = "success"
	StatusAlreadyProcessed = "already_processed"
	StatusIgnored          = "ignored"
	StatusCreated          = "created"
	StatusCanceled         = "canceled"
	StatusRefunded         = "refunded"
)

// Order states written by the effect flows.
const (
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusCanceled = "canceled"
	OrderStatusRefunded = "refunded"
)

var orderStatusRanks = map[string]int{
	OrderStatusPending:  1,
	OrderStatusPaid:     2,
	OrderStatusCanceled: 3,
	OrderStatusRefunded: 3,
}

// OrderStatusRank orders the order states; unknown states rank zero.
func OrderStatusRank(status string) int {
	return orderStatusRanks[strings.TrimSpace(status)]
}

// OrderStatusAdvances reports whether next may replace current. Order states
// only move forward, so a late pending never overwrites paid and paid never
// overwrites canceled or refunded.
func OrderStatusAdvances(current string, next string) bool {
	return OrderStatusRank(next) >= OrderStatusRank(current)
}

// Envelope is the parsed webhook body. It is not mutated after parsing.
type Envelope struct {
	Event       EventType    `json:"event"`
	Token       string       `json:"token,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Withdraw    *Withdraw    `json:"withdraw,omitempty"`
	Client      *Client      `json:"client,omitempty"`
}

type Transaction struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Amount         Amount          `json:"amount"`
	PaymentMethod  string          `json:"paymentMethod,omitempty"`
	PixInformation *PixInformation `json:"pixInformation,omitempty"`
}

type PixInformation struct {
	EndToEndID string `json:"endToEndId,omitempty"`
}

type Withdraw struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

type Client struct {
	ID    Identifier `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Phone string     `json:"phone,omitempty"`
}

// EntityID returns the transaction or withdraw id the event refers to.
func (e Envelope) EntityID() string {
	switch {
	case e.Event.IsTransaction() && e.Transaction != nil:
		return strings.TrimSpace(e.Transaction.ID)
	case e.Event.IsTransfer() && e.Withdraw != nil:
		return strings.TrimSpace(e.Withdraw.ID)
	case e.Transaction != nil:
		return strings.TrimSpace(e.Transaction.ID)
	case e.Withdraw != nil:
		return strings.TrimSpace(e.Withdraw.ID)
	}
	return ""
}

// IdempotencyKey scopes the entity id by event so that the CREATED and PAID
// notifications of one transaction are tracked independently.
func (e Envelope) IdempotencyKey() string {
	id := e.EntityID()
	if id == "" {
		return ""
	}
	return IdempotencyKey(e.Event, id)
}

func IdempotencyKey(event EventType, entityID string) string {
	return string(event) + ":" + strings.TrimSpace(entityID)
}

// SplitIdempotencyKey reverses IdempotencyKey.
func SplitIdempotencyKey(key string) (EventType, string, bool) {
	event, id, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || event == "" || id == "" {
		return "", "", false
	}
	return EventType(event), id, true
}

// Amount keeps the decimal text the gateway sent. Numbers and numeric strings
// are both accepted; anything else decodes to a non-numeric amount that the
// validator rejects.
type Amount struct {
	raw     string
	value   float64
	set     bool
	numeric bool
}

func NewAmount(text string) Amount {
	text = strings.TrimSpace(text)
	amount := Amount{raw: text, set: text != ""}
	if !decimalPattern.MatchString(text) {
		return amount
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return amount
	}
	amount.value = value
	amount.numeric = true
	return amount
}

// decimalPattern matches plain decimal text. ParseFloat alone also accepts
// NaN, Inf, hex floats and underscores.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*a = NewAmount(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		*a = Amount{raw: string(trimmed), set: true}
		return nil
	}
	*a = NewAmount(number.String())
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("null"), nil
	}
	if a.numeric {
		return []byte(a.raw), nil
	}
	return json.Marshal(a.raw)
}

func (a Amount) IsSet() bool { return a.set }

func (a Amount) IsNumeric() bool { return a.set && a.numeric }

func (a Amount) Float64() float64 { return a.value }

func (a Amount) String() string { return a.raw }

// Identifier accepts either a JSON string or a JSON number.
type Identifier string

func (i *Identifier) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*i = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*i = Identifier(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("core: identifier must be a string or number")
	}
	*i = Identifier(number.String())
	return nil
}

func (i Identifier) String() string { return string(i) }

// RequestMeta describes who delivered a webhook. It is stored with the
// idempotency record for audit.
type RequestMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type IdempotencyRecord struct {
	Key         string      `json:"key"`
	Event       EventType   `json:"event"`
	ProcessedAt time.Time   `json:"processed_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Meta        RequestMeta `json:"meta"`
}

func (r IdempotencyRecord) Expired(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(r.ExpiresAt)
}

type RetryEntry struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e RetryEntry) Due(now time.Time) bool {
	return !e.ScheduledAt.After(now)
}

type PartialFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// EffectResult is what the effect processor reports for one flow run.
type EffectResult struct {
	Success         bool             `json:"success"`
	Status          string           `json:"status"`
	Event           EventType        `json:"event"`
	Message         string           `json:"message,omitempty"`
	FailedStep      string           `json:"failed_step,omitempty"`
	PartialFailures []PartialFailure `json:"partial_failures,omitempty"`
}

// Committable reports whether the outcome produced an effect that must be
// recorded in the idempotency store.
func (r EffectResult) Committable() bool {
	return r.Success && r.Status != StatusIgnored
}

// Domain records written by the effect capabilities.

type PaymentRecord struct {
	TransactionID string
	EndToEndID    string
	Amount        string
	PaymentMethod string
	Status        string
	ClientID      string
	ClientName    string
	ClientEmail   string
	PaidAt        time.Time
}

type Entitlement struct {
	TransactionID string
	ClientID      string
	ClientEmail   string
	GrantedAt     time.Time
}

type AuditEntry struct {
	TransactionID string
	Event         EventType
	RequestID     string
	Attempt       int
	Payload       []byte
	RecordedAt    time.Time
}

type Notice struct {
	TransactionID string    `json:"transaction_id"`
	Event         EventType `json:"event"`
	Amount        string    `json:"amount"`
	ClientEmail   string    `json:"client_email,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
