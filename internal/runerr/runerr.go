// Package runerr defines the error-kind taxonomy shared across the orchestration
// core. Every component boundary that can fail returns (or wraps) an *Error so
// callers can branch on Kind instead of matching strings.
package runerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for routing, retry, and wire-event purposes.
type Kind string

const (
	KindInvalidInput  Kind = "invalidInput"
	KindInvalidPlan   Kind = "invalidPlan"
	KindTimeout       Kind = "timeout"
	KindCancelled     Kind = "cancelled"
	KindProviderError Kind = "providerError"
	KindUpstreamError Kind = "upstreamError"
	KindPoolExhausted Kind = "poolExhausted"
	KindDegraded      Kind = "degraded"
	KindInternal      Kind = "internal"
)

// Error is the typed error value carried across every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, runerr.New(KindTimeout, "", nil)) style kind checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidInput(msg string, cause error) *Error  { return New(KindInvalidInput, msg, cause) }
func InvalidPlan(msg string, cause error) *Error   { return New(KindInvalidPlan, msg, cause) }
func Timeout(msg string, cause error) *Error       { return New(KindTimeout, msg, cause) }
func Cancelled(msg string, cause error) *Error     { return New(KindCancelled, msg, cause) }
func ProviderError(msg string, cause error) *Error { return New(KindProviderError, msg, cause) }
func UpstreamError(msg string, cause error) *Error { return New(KindUpstreamError, msg, cause) }
func PoolExhausted(msg string, cause error) *Error { return New(KindPoolExhausted, msg, cause) }
func Internal(msg string, cause error) *Error      { return New(KindInternal, msg, cause) }

// KindOf extracts the Kind of err, defaulting to KindInternal for unclassified
// errors (including a bare context.DeadlineExceeded or context.Canceled; this
// package does not translate those into KindTimeout or KindCancelled).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether a kind is, on its own, worth retrying. Callers
// still need to consult step/tool-specific retry budgets and idempotency.
func Retryable(k Kind) bool {
	switch k {
	case KindTimeout, KindProviderError:
		return true
	default:
		return false
	}
}
