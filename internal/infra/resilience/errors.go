// Package resilience turns raw backing-store failures into classified
// errors and protects store calls with retries and circuit breakers.
//
// This package contains:
//   - ClassifiedError: the single error shape callers see
//   - Classify: ordered pattern table mapping raw errors to a Kind
//   - Executor: retry loop with exponential backoff and jitter
//   - Breaker: per operation class closed/open/half-open guard
package resilience

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy shared by every store failure.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindConstraint     Kind = "constraint"
	KindNotFound       Kind = "not_found"
	KindRateLimit      Kind = "rate_limit"
	KindServer         Kind = "server"
	KindTimeout        Kind = "timeout"
	KindConnection     Kind = "connection"
	KindUnknown        Kind = "unknown"
)

// Severity controls how a caller presents the error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether errors of this severity must not be dismissible.
func (s Severity) Blocking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Retryable reports the default retry flag for a kind. Unknown errors are
// retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindConnection, KindRateLimit, KindServer, KindUnknown:
		return true
	}
	return false
}

// ClassifiedError is the normalized form of any store failure.
type ClassifiedError struct {
	Kind        Kind
	Code        string
	Message     string
	UserMessage string
	Field       string
	Retryable   bool
	Severity    Severity
	Context     string
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Context, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches another ClassifiedError by kind and, when set, by code.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// CodeCircuitOpen marks errors produced by an open circuit breaker.
const CodeCircuitOpen = "CIRCUIT_OPEN"

var (
	// ErrCircuitOpen matches any fast-fail rejection from an open breaker.
	ErrCircuitOpen = &ClassifiedError{Kind: KindServer, Code: CodeCircuitOpen}

	// ErrNotFound matches any not_found classification.
	ErrNotFound = &ClassifiedError{Kind: KindNotFound}

	// ErrValidation matches any validation classification.
	ErrValidation = &ClassifiedError{Kind: KindValidation}
)

// NewValidationError builds a validation error raised by domain logic rather
// than by the store. It is never retried.
func NewValidationError(field, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:        KindValidation,
		Code:        "VALIDATION",
		Message:     message,
		UserMessage: message,
		Field:       field,
		Retryable:   false,
		Severity:    SeverityLow,
	}
}

// NewNotFoundError builds a not_found error for a missing entity.
func NewNotFoundError(entity, id string) *ClassifiedError {
	msg := fmt.Sprintf("%s %s not found", entity, id)
	return &ClassifiedError{
		Kind:        KindNotFound,
		Code:        "NOT_FOUND",
		Message:     msg,
		UserMessage: "The requested item could not be found.",
		Retryable:   false,
		Severity:    SeverityLow,
		Context:     entity,
	}
}

func newCircuitOpenError(breaker string) *ClassifiedError {
	return &ClassifiedError{
		Kind:        KindServer,
		Code:        CodeCircuitOpen,
		Message:     fmt.Sprintf("circuit %q is open", breaker),
		UserMessage: "The service is temporarily unavailable. Please try again shortly.",
		Retryable:   false,
		Severity:    SeverityHigh,
		Context:     breaker,
	}
}

// AsClassified extracts a ClassifiedError from err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
