package inference

import "errors"

// Sentinel errors. Callers branch on these tags rather than matching
// substrings of provider error text.
var (
	// ErrRateLimited is a provider 429. Never retried within a request.
	ErrRateLimited = errors.New("inference: rate limited by provider")

	// ErrInvalidRequest is a provider 422: the request payload was rejected.
	ErrInvalidRequest = errors.New("inference: invalid request")

	// ErrTimeout is a dispatch that exceeded the configured timeout.
	ErrTimeout = errors.New("inference: request timed out")

	// ErrCircuitOpen is returned without a network call while the breaker
	// is open.
	ErrCircuitOpen = errors.New("inference: circuit breaker open")

	// ErrUpstream is any other provider failure.
	ErrUpstream = errors.New("inference: provider error")
)
