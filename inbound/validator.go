package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
)

const invalidPayloadMessage = "invalid webhook payload"

// EventValidator parses webhook bodies and checks envelopes. It is stateless
// and safe for concurrent use.
type EventValidator struct{}

func NewEventValidator() *EventValidator {
	return &EventValidator{}
}

// Parse decodes a webhook body. Empty and malformed bodies are validation
// errors; type mismatches are reported against the offending field.
func (v *EventValidator) Parse(body []byte) (core.Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return core.Envelope{}, core.NewValidationError("webhook payload is empty")
	}
	var envelope core.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field := typeErr.Field
			message := fmt.Sprintf("must be a %s", jsonKindName(typeErr.Type.Kind().String()))
			return core.Envelope{}, core.NewValidationError(
				fmt.Sprintf("%s: %s: %s", invalidPayloadMessage, field, message),
				goerrors.FieldError{Field: field, Message: message, Value: typeErr.Value},
			)
		}
		return core.Envelope{}, core.NewValidationError("webhook payload is not valid JSON")
	}
	return envelope, nil
}

// Validate checks the envelope shape. Every failing field is reported in the
// returned error; the message lists them in field order.
func (v *EventValidator) Validate(envelope core.Envelope) error {
	rules := validation.Errors{
		"event":  validation.Validate(string(envelope.Event), validation.Required, validation.In(knownEventValues()...)),
		"client": validateClient(envelope.Client),
	}
	switch {
	case envelope.Event.IsTransaction():
		rules["transaction"] = validateTransaction(envelope.Transaction)
	case envelope.Event.IsTransfer():
		rules["withdraw"] = validateWithdraw(envelope.Withdraw)
	}
	err := rules.Filter()
	if err == nil {
		return nil
	}
	mapped := goerrors.FromOzzoValidation(err, invalidPayloadMessage)
	fields := mapped.ValidationErrors
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return core.NewValidationError(describeFields(fields), fields...)
}

func validateTransaction(tx *core.Transaction) error {
	if tx == nil {
		return validation.ErrRequired
	}
	return validation.ValidateStruct(tx,
		validation.Field(&tx.ID, validation.Required),
		validation.Field(&tx.Status, validation.Required),
		validation.Field(&tx.Amount, validation.By(amountRule(false))),
	)
}

func validateWithdraw(wd *core.Withdraw) error {
	if wd == nil {
		return validation.ErrRequired
	}
	return validation.ValidateStruct(wd,
		validation.Field(&wd.ID, validation.Required),
		validation.Field(&wd.Status, validation.Required),
		validation.Field(&wd.Amount, validation.By(amountRule(true))),
	)
}

func validateClient(client *core.Client) error {
	if client == nil {
		return validation.ErrRequired
	}
	return validation.ValidateStruct(client,
		validation.Field(&client.ID, validation.Required),
		validation.Field(&client.Name, validation.Required),
		validation.Field(&client.Email, validation.Required, is.EmailFormat),
	)
}

// amountRule accepts numeric amounts above zero, or at zero when allowZero
// is set.
func amountRule(allowZero bool) validation.RuleFunc {
	return func(value any) error {
		amount, ok := value.(core.Amount)
		if !ok || !amount.IsSet() {
			return validation.ErrRequired
		}
		if !amount.IsNumeric() {
			return validation.NewError("validation_amount_numeric", "must be a number")
		}
		if allowZero {
			if amount.Float64() < 0 {
				return validation.NewError("validation_amount_min", "must not be negative")
			}
			return nil
		}
		if amount.Float64() <= 0 {
			return validation.NewError("validation_amount_positive", "must be greater than zero")
		}
		return nil
	}
}

func knownEventValues() []any {
	events := core.KnownEvents()
	values := make([]any, 0, len(events))
	for _, event := range events {
		values = append(values, string(event))
	}
	return values
}

func describeFields(fields []goerrors.FieldError) string {
	if len(fields) == 0 {
		return invalidPayloadMessage
	}
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return invalidPayloadMessage + ": " + strings.Join(parts, "; ")
}

func jsonKindName(kind string) string {
	switch kind {
	case "string":
		return "string"
	case "struct", "map", "ptr":
		return "object"
	case "slice", "array":
		return "list"
	case "bool":
		return "boolean"
	default:
		return "number"
	}
}
