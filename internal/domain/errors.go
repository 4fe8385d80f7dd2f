package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned by ingestion and admin endpoints when
// credentials are missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a malformed ingestion payload before any row is
// created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResolutionError wraps an identity lookup or creation failure. Resolution
// failures are retryable: a second call finds the already-created entity
// instead of duplicating it.
type ResolutionError struct {
	Identifier string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Identifier, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failure of an external collaborator (the
// classification adapter or the send collaborator). Callers degrade
// gracefully rather than failing the surrounding operation.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
