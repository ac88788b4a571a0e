package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorValidation = "VALIDATION_ERROR"
	ErrorSecurity   = "SECURITY_ERROR"
	ErrorProcessing = "PROCESSING_ERROR"
	ErrorInternal   = "INTERNAL_ERROR"
)

// Security rejection reasons carried in error metadata under "reason".
const (
	ReasonMethodNotAllowed     = "method_not_allowed"
	ReasonUnsupportedMediaType = "unsupported_media_type"
	ReasonPayloadTooLarge      = "payload_too_large"
	ReasonIPNotAllowed         = "ip_not_allowed"
	ReasonRateLimited          = "rate_limited"
	ReasonTokenMissing         = "token_missing"
	ReasonTokenInvalid         = "token_invalid"
)

var ErrRecordNotFound = errors.New("core: record not found")

func NewValidationError(message string, fields ...goerrors.FieldError) *goerrors.Error {
	if len(fields) == 0 {
		return goerrors.New(message, goerrors.CategoryValidation).
			WithCode(http.StatusBadRequest).
			WithTextCode(ErrorValidation)
	}
	return goerrors.NewValidation(message, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidation).
		WithSeverity(goerrors.SeverityError)
}

func NewSecurityError(message string, reason string, metadata map[string]any) *goerrors.Error {
	code := http.StatusUnauthorized
	category := goerrors.CategoryAuth
	if reason == ReasonRateLimited {
		code = http.StatusTooManyRequests
		category = goerrors.CategoryRateLimit
	}
	meta := map[string]any{"reason": reason}
	for key, value := range metadata {
		meta[key] = value
	}
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(ErrorSecurity).
		WithMetadata(meta)
}

func NewProcessingError(source error, message string, metadata map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryOperation)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryOperation, message)
	}
	err = err.WithCode(http.StatusInternalServerError).WithTextCode(ErrorProcessing)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func NewInternalError(source error, message string, metadata map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryInternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryInternal, message)
	}
	err = err.WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal).
		WithSeverity(goerrors.SeverityCritical)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// MapError normalizes any error into the webhook error envelope. Errors that
// already carry one of the webhook text codes are returned as is.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return ensureErrorEnvelope(rich)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	switch strings.TrimSpace(err.TextCode) {
	case ErrorValidation, ErrorSecurity, ErrorProcessing, ErrorInternal:
	default:
		err.TextCode = textCodeForCategory(err.Category)
	}
	if err.Code == 0 {
		err.Code = httpStatusForTextCode(err.TextCode)
	}
	return err
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryRateLimit:
		return ErrorSecurity
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return ErrorProcessing
	default:
		return ErrorInternal
	}
}

func httpStatusForTextCode(textCode string) int {
	switch textCode {
	case ErrorValidation:
		return http.StatusBadRequest
	case ErrorSecurity:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to the gateway for an error.
// Validation messages describe the payload; everything else is generic.
func PublicMessage(err *goerrors.Error) string {
	if err == nil {
		return ""
	}
	switch err.TextCode {
	case ErrorValidation:
		if msg := strings.TrimSpace(err.Message); msg != "" {
			return msg
		}
		return "invalid webhook payload"
	case ErrorSecurity:
		return "security error"
	case ErrorProcessing:
		return "processing error, retry scheduled"
	default:
		return "internal server error"
	}
}

// SecurityReason returns the rejection reason attached to a security error.
func SecurityReason(err *goerrors.Error) string {
	if err == nil || err.Metadata == nil {
		return ""
	}
	if reason, ok := err.Metadata["reason"].(string); ok {
		return reason
	}
	return ""
}
