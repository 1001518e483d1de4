package service

import "fmt"

// ValidationError marks a capture rejection caused by the request
// itself, as opposed to a store or queue failure. The API layer maps it
// to a 400 instead of a 500.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}
