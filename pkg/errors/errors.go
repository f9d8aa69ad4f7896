// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// self-healing engine.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies engine errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeBreakerOpen indicates a call was rejected by an open circuit breaker.
	// Callers should fall back or queue; the guarded dependency is cooling down.
	CodeBreakerOpen ErrorCode = "BREAKER_OPEN"

	// CodeMetricsUnavailable indicates a component's metrics could not be
	// collected. The component is classified down; the polling loop continues.
	CodeMetricsUnavailable ErrorCode = "METRICS_UNAVAILABLE"

	// CodeActionTimeout indicates a recovery action exceeded its time limit.
	CodeActionTimeout ErrorCode = "ACTION_TIMEOUT"

	// CodeActionFailed indicates a recovery action execution failed.
	CodeActionFailed ErrorCode = "ACTION_FAILED"

	// CodeStrategyStepFailed indicates a healing strategy step failed,
	// aborting the remaining steps.
	CodeStrategyStepFailed ErrorCode = "STRATEGY_STEP_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates an incident, strategy, or action id was unknown.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidState indicates an operation is not valid for the current
	// lifecycle state of the target.
	CodeInvalidState ErrorCode = "INVALID_STATE"
)

// EngineError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EngineError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type Alias EngineError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new EngineError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *EngineError) WithRecoverable(recoverable bool) *EngineError {
	e.Recoverable = recoverable
	return e
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns the error as EngineError if it is one, or wraps it otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err is an EngineError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	ee, ok := err.(*EngineError)
	if !ok {
		return false
	}
	return ee.Code == code
}
