package models

import "errors"

// Domain error kinds. Every one of these is recoverable by the caller
// retrying the action; handlers translate them to HTTP statuses.
var (
	// ErrUnauthorized means a role or ownership check failed.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the referenced session or prompt does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName means a prompt with the same command already exists.
	ErrDuplicateName = errors.New("duplicate prompt name")
	// ErrMalformedTemplate means an import payload could not be parsed.
	ErrMalformedTemplate = errors.New("malformed template file")
	// ErrStoreUnavailable means the database could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrModelUnavailable means the inference endpoint is unreachable or the
	// named model is not loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrTimeout means inference produced no response within the configured
	// deadline.
	ErrTimeout = errors.New("inference timeout")
)
