// Package apperrors defines venue-agnostic sentinels for exchange failures.
// Adapters wrap these so callers can classify errors without knowing venue
// error codes.
package apperrors

import "errors"

var (
	// ErrInsufficientFunds means the account cannot cover the order margin
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidSymbol means the venue does not trade the requested symbol
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrRateLimitExceeded means the venue is throttling this API key
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAuthenticationFailed means the API credentials were rejected
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrExchangeMaintenance means the venue is temporarily not accepting orders
	ErrExchangeMaintenance = errors.New("exchange maintenance")
)
