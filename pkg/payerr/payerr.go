// Package payerr defines the stable, machine-readable error surface of the SDK.
//
// Agents branch on error kinds, not on message text. Every error that crosses
// the public API boundary is (or wraps) a *Error carrying one of the Kind
// constants below.
package payerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable machine-readable error classification.
type Kind string

// Error kinds surfaced by the SDK. The string values are part of the public
// contract and must not change.
const (
	// KindConfiguration is returned for invalid or missing configuration.
	KindConfiguration Kind = "configuration_error"

	// KindValidation is returned for malformed requests (bad amount,
	// unrecognized recipient format, missing fields).
	KindValidation Kind = "validation_error"

	// KindWalletNotFound is returned when the referenced wallet does not exist.
	KindWalletNotFound Kind = "wallet_not_found"

	// KindInsufficientBalance is returned when available balance (balance
	// minus active reservations) does not cover the payment.
	KindInsufficientBalance Kind = "insufficient_balance"

	// KindWalletBusy is returned when the per-wallet fund lock cannot be
	// acquired within the retry budget.
	KindWalletBusy Kind = "wallet_busy"

	// KindGuardBlocked is returned when a spending guard rejects the payment.
	// GuardName and Reason identify the guard and its verdict.
	KindGuardBlocked Kind = "guard_blocked"

	// KindRoutingFailed is returned when no adapter can handle the recipient.
	KindRoutingFailed Kind = "routing_failed"

	// KindProtocol is returned for malformed or unexpected responses from a
	// payment-protocol counterparty.
	KindProtocol Kind = "protocol_error"

	// KindNetwork is returned for transport-level failures.
	KindNetwork Kind = "network_error"

	// KindTimeout is returned when an operation exceeds its deadline.
	KindTimeout Kind = "timeout"

	// KindCircuitOpen is returned when the circuit breaker for a downstream
	// service is open and calls are being short-circuited.
	KindCircuitOpen Kind = "circuit_open"

	// KindIntentNotFound is returned when the referenced payment intent does
	// not exist.
	KindIntentNotFound Kind = "intent_not_found"

	// KindIntentTerminal is returned when confirming or canceling an intent
	// that already reached a terminal state.
	KindIntentTerminal Kind = "intent_already_terminal"

	// KindIntentExpired is returned when confirming an intent past its expiry.
	KindIntentExpired Kind = "intent_expired"
)

// Error is the concrete error type carried across the SDK boundary.
type Error struct {
	Kind    Kind
	Message string

	// GuardName and Reason are set only for KindGuardBlocked.
	GuardName string
	Reason    string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.GuardName != "" {
		fmt.Fprintf(&b, " [%s]", e.GuardName)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// E constructs a new Error of the given kind with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// Blocked constructs a guard rejection carrying the guard's name and reason.
func Blocked(guardName, reason string) *Error {
	return &Error{
		Kind:      KindGuardBlocked,
		GuardName: guardName,
		Reason:    reason,
		Message:   reason,
	}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Returns the empty Kind when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// transientMarkers are substrings that mark an unclassified error as
// retryable. Matching is case-insensitive.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"network error",
	"rate limit",
	"too many requests",
	"500", "502", "503", "504",
}

// IsTransient reports whether err represents a transient failure that a
// retry could plausibly resolve. Permanent failures (validation, guard
// blocks, insufficient balance, open circuits) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return true
	case "":
		// Unclassified errors fall back to message inspection.
	default:
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
