package webhooks

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
)

const responseStatusError = "error"

// Response is the JSON body returned to the gateway on HTTP 200.
type Response struct {
	Status              string     `json:"status"`
	TransactionID       string     `json:"transaction_id,omitempty"`
	RequestID           string     `json:"request_id"`
	ProcessingTimeMS    int64      `json:"processing_time_ms"`
	OriginalProcessedAt *time.Time `json:"original_processed_at,omitempty"`
	Message             string     `json:"message,omitempty"`
}

// ErrorResponse is the JSON body for every non-200 answer. Messages never
// carry internal details.
type ErrorResponse struct {
	Status    string                `json:"status"`
	ErrorCode string                `json:"error_code"`
	Message   string                `json:"message"`
	Reason    string                `json:"reason,omitempty"`
	Fields    []goerrors.FieldError `json:"fields,omitempty"`
	RequestID string                `json:"request_id"`
}

func NewResponse(outcome Outcome) Response {
	response := Response{
		Status:           outcome.Status,
		TransactionID:    outcome.TransactionID,
		RequestID:        outcome.RequestID,
		ProcessingTimeMS: outcome.ProcessingTime.Milliseconds(),
	}
	if outcome.OriginalProcessedAt != nil {
		processedAt := outcome.OriginalProcessedAt.UTC()
		response.OriginalProcessedAt = &processedAt
	}
	if outcome.Status == core.StatusIgnored {
		response.Message = outcome.Result.Message
	}
	return response
}

// NewErrorResponse maps err to its HTTP status and response body.
func NewErrorResponse(err error, requestID string) (int, ErrorResponse) {
	mapped := errorEnvelope(err)
	response := ErrorResponse{
		Status:    responseStatusError,
		ErrorCode: mapped.TextCode,
		Message:   core.PublicMessage(mapped),
		RequestID: requestID,
	}
	switch mapped.TextCode {
	case core.ErrorSecurity:
		response.Reason = core.SecurityReason(mapped)
	case core.ErrorValidation:
		response.Fields = mapped.ValidationErrors
	}
	return StatusCode(mapped), response
}
