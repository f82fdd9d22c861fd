package orchestrator

import "errors"

// Errors returned synchronously by the registries. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrAuthentication = errors.New("authentication error")
	ErrInvalidState   = errors.New("invalid state")
	ErrNotFound       = errors.New("not found")
)
