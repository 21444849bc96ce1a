package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError rejects malformed input before any persistence happens.
// The HTTP layer maps it to a 400; everything else that isn't a not-found
// surfaces as a persistence failure.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
