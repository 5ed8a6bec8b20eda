package core

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors shared across the pipeline
var (
	// ErrContextNotReady is returned by snapshot accessors before the first
	// successful sync of the relevant data category
	ErrContextNotReady = errors.New("market context not ready")

	// ErrBreakerOpen is returned when the exchange circuit breaker rejects a
	// call without touching the network
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrOrderFinalized is returned when a transition is applied to an order
	// already in a terminal state
	ErrOrderFinalized = errors.New("order already finalized")

	// ErrOrderNotFound is returned when an order lookup misses
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is returned by exchanges that detect an idempotency
	// key replay for a still-live order
	ErrDuplicateOrder = errors.New("duplicate order")
)

// fatalMarkers are substrings of exchange errors that must not be retried
var fatalMarkers = []string{
	"insufficient funds",
	"insufficient balance",
	"margin",
	"invalid symbol",
	"INVALID_SYMBOL",
	"min notional",
	"lot size",
	"permission denied",
}

// IsFatalExchangeError reports whether an exchange error is a terminal
// rejection rather than a transient failure
func IsFatalExchangeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateOrder) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// IsTransientError reports whether an error is worth retrying
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsFatalExchangeError(err)
}

// ambiguousMarkers indicate the request may have reached the exchange even
// though the response was lost
var ambiguousMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"broken pipe",
	"EOF",
	"unexpected status 5",
}

// IsAmbiguousResult reports whether a placement error leaves the order in an
// unknown state. Callers must query by idempotency key before resubmitting.
func IsAmbiguousResult(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range ambiguousMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
