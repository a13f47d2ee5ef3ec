package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports a bad call into the generator. It is returned
// synchronously by the call that introduced the problem.
//
// Validation errors include:
//   - Invalid window: start >= end
//   - Unknown tab: the session log never recorded the tab
//   - Unknown session or state reference
//   - Re-attaching a session to a second state
//   - Malformed snapshot on Import
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationErrorCode

	// Message is a human-readable description.
	Message string

	// SessionID identifies the session involved, if any.
	SessionID string

	// State names the state involved, if any.
	State string

	// Details contains additional context.
	Details map[string]string
}

// ValidationErrorCode categorizes validation errors.
type ValidationErrorCode string

const (
	// ErrCodeInvalidWindow indicates a window with start >= end.
	ErrCodeInvalidWindow ValidationErrorCode = "INVALID_WINDOW"

	// ErrCodeInvalidSession indicates a nil session log or a session id
	// that is not valid UTF-8.
	ErrCodeInvalidSession ValidationErrorCode = "INVALID_SESSION"

	// ErrCodeUnknownTab indicates the session has no such tab.
	ErrCodeUnknownTab ValidationErrorCode = "UNKNOWN_TAB"

	// ErrCodeUnknownSession indicates a session id that was never added.
	ErrCodeUnknownSession ValidationErrorCode = "UNKNOWN_SESSION"

	// ErrCodeUnknownState indicates a state name that was never created.
	ErrCodeUnknownState ValidationErrorCode = "UNKNOWN_STATE"

	// ErrCodeInvalidStateName indicates an empty state name or one that is
	// not valid UTF-8.
	ErrCodeInvalidStateName ValidationErrorCode = "INVALID_STATE_NAME"

	// ErrCodeSessionAttached indicates a session already belongs to another state.
	ErrCodeSessionAttached ValidationErrorCode = "SESSION_ALREADY_ATTACHED"

	// ErrCodeDuplicateSession indicates a session id re-added with a
	// different tab or window.
	ErrCodeDuplicateSession ValidationErrorCode = "DUPLICATE_SESSION"

	// ErrCodeInvalidSnapshot indicates a snapshot that cannot be imported.
	ErrCodeInvalidSnapshot ValidationErrorCode = "INVALID_SNAPSHOT"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.SessionID != "" && e.State != "":
		return fmt.Sprintf("%s: %s (session=%s, state=%s)", e.Code, e.Message, e.SessionID, e.State)
	case e.SessionID != "":
		return fmt.Sprintf("%s: %s (session=%s)", e.Code, e.Message, e.SessionID)
	case e.State != "":
		return fmt.Sprintf("%s: %s (state=%s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HasCode returns true if err is or wraps a *ValidationError with the code.
func HasCode(err error, code ValidationErrorCode) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == code
	}
	return false
}

func newValidationError(code ValidationErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
