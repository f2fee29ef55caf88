package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrNoConfiguration      = errors.New("no encryption configuration loaded")
	ErrInvalidDocument      = errors.New("invalid JSON document")
	ErrFieldNotDecryptable  = errors.New("field could not be decrypted")
	ErrFieldNotQueryable    = errors.New("field cannot be queried")
	ErrUnsupportedOperator  = errors.New("unsupported query operator")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// TransformError is the typed failure reported by the transformation engine.
// It is an expected outcome, not a transport error.
type TransformError struct {
	Code    int
	Message string
	Field   string
	Err     error
}

func (e *TransformError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Field != "" && e.Err != nil {
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transformation failed"
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewFieldError builds a TransformError scoped to a document field.
func NewFieldError(field string, kind error, format string, args ...any) *TransformError {
	return &TransformError{
		Field:   field,
		Err:     kind,
		Message: fmt.Sprintf("field %q: %s", field, fmt.Sprintf(format, args...)),
	}
}

// ErrorResponse is the JSON error payload returned for domain failures and
// rejected requests. Callers tell it apart from a success body by its shape.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
