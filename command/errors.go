package command

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-pix-webhooks/core"
)

func commandDependencyError(message string) error {
	return core.NewInternalError(nil, message, nil)
}

func commandValidationError(field string, message string) error {
	return core.NewValidationError("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}
