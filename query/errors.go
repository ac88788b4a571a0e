package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
)

const ErrorNotFound = "NOT_FOUND"

func queryDependencyError(message string) error {
	return core.NewInternalError(nil, message, nil)
}

func queryValidationError(field string, message string) error {
	return core.NewValidationError("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}

func queryNotFoundError(message string, metadata map[string]any) error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorNotFound).
		WithMetadata(metadata)
}
