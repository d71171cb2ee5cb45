package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and at the engine boundary.
const (
	ErrCodeContextInvalid    = "CONTEXT_INVALID"
	ErrCodeDefinitionInvalid = "DEFINITION_INVALID"
	ErrCodeSelectorUnknown   = "SELECTOR_UNKNOWN"
	ErrCodeSelectorExists    = "SELECTOR_EXISTS"
	ErrCodeRecommendation    = "RECOMMENDATION_INVALID"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeDocumentLoad      = "DOCUMENT_LOAD_FAILED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EngineError is the error type that crosses the engine boundary.
// Only a handful of codes are ever returned from resolution; everything
// else is reported through ResolutionResult fields.
type EngineError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError.
func NewEngineError(code, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *EngineError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// IsCode reports whether err (or anything it wraps) is an EngineError
// carrying the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
