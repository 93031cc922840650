package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation core. Handlers map these onto
// HTTP status codes; repos never touch HTTP concerns.
var (
	ErrAnimalNotFound       = errors.New("animal not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrShelterNotFound      = errors.New("shelter not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailInUse           = errors.New("email already in use")
)

// ValidationError signals malformed caller input (bad id, empty text,
// missing required field). Surfaced as HTTP 400, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a specific field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
