// Package apperrors classifies failures raised anywhere in the order
// pipeline into the four kinds spec.md §7 requires: validation,
// routing, execution, and system. Classification drives both the
// retry policy in internal/pipeline and the status payload exposed to
// stream subscribers.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the top-level classification of an order failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindRouting    Kind = "routing"
	KindExecution  Kind = "execution"
	KindSystem     Kind = "system"
)

// Error is the tagged-variant error type carried through the order
// state machine. Context holds structured fields (order id, venue,
// attempt count) useful for logging and for the status stream without
// forcing callers to parse the message string.
type Error struct {
	Kind      Kind
	Message   string
	Context   map[string]interface{}
	Retryable bool
	Cause     error
	At        time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of e with k=v merged into its context map.
func (e *Error) WithContext(k string, v interface{}) *Error {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for ck, cv := range e.Context {
		cp.Context[ck] = cv
	}
	cp.Context[k] = v
	return &cp
}

func newError(kind Kind, retryable bool, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Context:   make(map[string]interface{}),
		Retryable: retryable,
		At:        time.Now().UTC(),
	}
}

// Validation constructs a non-retryable validation error: a malformed
// or economically nonsensical order request.
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, false, format, args...)
}

// Routing constructs a routing error: every venue failed to quote, or
// the router could not reach consensus within its timeout. Routing
// errors are retryable, since a venue outage is often transient.
func Routing(format string, args ...interface{}) *Error {
	return newError(KindRouting, true, format, args...)
}

// Execution constructs an execution error: the chosen venue rejected
// or failed the swap. Retryable by default — a slippage breach or a
// venue-side rejection is re-attempted against the same quote up to the
// queue's maxRetries before the order is failed.
func Execution(format string, args ...interface{}) *Error {
	return newError(KindExecution, true, format, args...)
}

// System constructs a system error: storage, queue, or cache failure
// unrelated to the economics of the order. Retryable.
func System(format string, args ...interface{}) *Error {
	return newError(KindSystem, true, format, args...)
}

// WithRetryable overrides the default retryable flag for the kind.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// WithCause attaches an underlying error for unwrapping and logging.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// substring heuristics used by Classify when a third-party or
// venue-adapter error carries no *Error of its own. Ordered most to
// least specific; the first match wins.
var classifyRules = []struct {
	substr string
	kind   Kind
}{
	{"slippage", KindExecution},
	{"insufficient liquidity", KindRouting},
	{"no quote", KindRouting},
	{"all venues", KindRouting},
	{"invalid amount", KindValidation},
	{"invalid mint", KindValidation},
	{"invalid token", KindValidation},
	{"unsupported pair", KindValidation},
	{"context deadline exceeded", KindSystem},
	{"connection refused", KindSystem},
	{"timeout", KindSystem},
	{"circuit breaker", KindRouting},
}

// Classify maps an arbitrary error into an *Error, preferring a typed
// match via errors.As, then falling back to a substring heuristic over
// the error's message, and finally defaulting to KindSystem so that an
// unrecognized failure is retried rather than silently discarded.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		if strings.Contains(msg, rule.substr) {
			retryable := rule.kind == KindRouting || rule.kind == KindSystem || rule.kind == KindExecution
			return &Error{
				Kind:      rule.kind,
				Message:   err.Error(),
				Context:   make(map[string]interface{}),
				Retryable: retryable,
				Cause:     err,
				At:        time.Now().UTC(),
			}
		}
	}

	return System("unclassified failure").WithCause(err)
}

// IsRetryable reports whether err, once classified, should be retried
// by the pipeline worker.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}
